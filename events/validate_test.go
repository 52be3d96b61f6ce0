package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(t *testing.T, secret []byte) *ContentEvent {
	t.Helper()
	body, err := json.Marshal(PostBody{Text: "hello world"})
	require.NoError(t, err)

	evt := &ContentEvent{
		ID:        "evt-001",
		Kind:      KindPost,
		CreatedAt: time.Now().Unix(),
		AuthorDID: "did:plc:alice",
		Body:      body,
		Source:    "test",
	}
	evt.Signature = SignEvent(secret, evt)
	return evt
}

func TestValidateRoundtrip(t *testing.T) {
	assert := assert.New(t)

	secret := []byte("test-secret")
	v := &Validator{Secret: secret}
	evt := testEvent(t, secret)

	raw, err := json.Marshal(evt)
	require.NoError(t, err)

	out, err := v.Validate(raw)
	require.NoError(t, err)
	assert.Equal(evt.ID, out.ID)
	assert.Equal(KindPost, out.Kind)
	assert.Equal("hello world", out.PostText())
}

func TestValidateRejections(t *testing.T) {
	assert := assert.New(t)

	secret := []byte("test-secret")
	v := &Validator{Secret: secret}

	_, err := v.Validate([]byte("{not json"))
	assert.True(IsValidationError(err))

	cases := []func(*ContentEvent){
		func(e *ContentEvent) { e.ID = "" },
		func(e *ContentEvent) { e.AuthorDID = "" },
		func(e *ContentEvent) { e.CreatedAt = 0 },
		func(e *ContentEvent) { e.Kind = "bogus" },
		func(e *ContentEvent) { e.Signature = "" },
		func(e *ContentEvent) { e.Signature = "deadbeef" },
	}
	for i, mutate := range cases {
		evt := testEvent(t, secret)
		mutate(evt)
		err := v.Check(evt)
		assert.Truef(IsValidationError(err), "case %d should be a validation error, got %v", i, err)
	}
}

func TestValidateNoSecretSkipsVerification(t *testing.T) {
	assert := assert.New(t)

	v := &Validator{}
	evt := testEvent(t, []byte("whatever"))
	evt.Signature = "not-checked"
	assert.NoError(v.Check(evt))

	evt.Signature = ""
	assert.True(IsValidationError(v.Check(evt)))
}

func TestDecodeBodyTaggedUnion(t *testing.T) {
	assert := assert.New(t)

	body, _ := json.Marshal(ProfileBody{Locale: "en-US", Cluster: "NATO", Location: &Coordinates{Lat: 40.7, Lon: -74.0}})
	evt := &ContentEvent{Kind: KindProfile, Body: body}
	dec, err := evt.DecodeBody()
	require.NoError(t, err)
	profile, ok := dec.(*ProfileBody)
	require.True(t, ok)
	assert.Equal("en-US", profile.Locale)
	assert.NotNil(profile.Location)

	evt = &ContentEvent{Kind: KindFollow, Body: []byte(`{"subject":"did:plc:bob"}`)}
	dec, err = evt.DecodeBody()
	require.NoError(t, err)
	assert.Equal("did:plc:bob", dec.(*FollowBody).Subject)

	evt = &ContentEvent{Kind: "mystery"}
	_, err = evt.DecodeBody()
	assert.Error(err)
}
