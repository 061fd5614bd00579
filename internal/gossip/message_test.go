package gossip

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &Frame{
		Type:    MsgRefs,
		Session: "s1",
		From:    "did:key:zPeer",
		RID:     "rid:demo",
		Branches: map[string]string{
			"main": "deadbeef",
		},
		Cobs: []CobHeads{
			{Kind: "issue", ID: "bafyissue", Tips: []string{"tip1", "tip2"}},
		},
	}
	require.NoError(t, WriteFrame(&buf, in))

	out, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFrame_MultipleOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &Frame{Type: MsgHello, From: "did:key:zA"}))
	require.NoError(t, WriteFrame(&buf, &Frame{Type: MsgLsRefs, RID: "rid:demo"}))

	r := bufio.NewReader(&buf)
	first, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, MsgHello, first.Type)

	second, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, MsgLsRefs, second.Type)
	assert.Equal(t, "rid:demo", second.RID)
}

func TestReadFrame_RejectsMissingType(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("{\"rid\":\"rid:demo\"}\n"))
	_, err := ReadFrame(r)
	assert.Error(t, err)
}

func TestReadFrame_RejectsGarbage(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("not json\n"))
	_, err := ReadFrame(r)
	assert.Error(t, err)
}
