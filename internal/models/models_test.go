package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNullableDistinguishesAbsentAndNull(t *testing.T) {
	var profile UpdateUserProfile
	require.NoError(t, json.Unmarshal([]byte(`{"display_name": null, "bio": "hi"}`), &profile))

	require.True(t, profile.DisplayName.Set)
	require.Nil(t, profile.DisplayName.Value)
	require.True(t, profile.Bio.Set)
	require.NotNil(t, profile.Bio.Value)
	require.Equal(t, "hi", *profile.Bio.Value)
	require.False(t, profile.Avatar.Set)
	require.False(t, profile.Empty())

	var empty UpdateUserProfile
	require.NoError(t, json.Unmarshal([]byte(`{}`), &empty))
	require.True(t, empty.Empty())
}

func TestPayloadEnvelope(t *testing.T) {
	p := NewPayload(OpPresenceUpdate, PresenceUpdateData{
		UserID: 42,
		Status: Status{Type: StatusIdle},
	})
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	require.JSONEq(t,
		`{"op":"PRESENCE_UPDATE","d":{"user_id":42,"status":{"type":"idle","text":null}}}`,
		string(raw))

	pong, err := json.Marshal(NewPayload(OpPong, nil))
	require.NoError(t, err)
	require.JSONEq(t, `{"op":"PONG"}`, string(pong))
}

func TestMessageFlattensCreateFields(t *testing.T) {
	name := "Not a weeb"
	m := Message{
		Author: User{ID: 1, Username: "yendri", Status: Status{Type: StatusOnline}},
		MessageCreate: MessageCreate{
			Content:  "Hello, World!",
			Disguise: &MessageDisguise{Name: &name},
		},
	}
	raw, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Contains(t, decoded, "author")
	require.Contains(t, decoded, "content")
	require.Contains(t, decoded, "_disguise")
}

func TestFileDataMetadata(t *testing.T) {
	w, h := 1920, 1080
	image := File{ID: 1, FileID: 1, Name: "a.png", ContentType: "image/png", Bucket: "attachments", Width: &w, Height: &h}
	require.Equal(t, "image", image.Data().Metadata.Type)

	video := File{ID: 2, FileID: 2, Name: "b.mp4", ContentType: "video/mp4", Bucket: "attachments", Width: &w, Height: &h}
	require.Equal(t, "video", video.Data().Metadata.Type)

	text := File{ID: 3, FileID: 3, Name: "c.txt", ContentType: "text/plain", Bucket: "attachments"}
	require.Equal(t, "text", text.Data().Metadata.Type)

	// An image row without probed dimensions degrades to other.
	bare := File{ID: 4, FileID: 4, Name: "d.png", ContentType: "image/png", Bucket: "attachments"}
	require.Equal(t, "other", bare.Data().Metadata.Type)
}
