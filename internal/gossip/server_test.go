package gossip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomvcs/loom/internal/cob"
	"github.com/loomvcs/loom/internal/tracking"
)

// startGossipServer serves a node's store over real websockets and returns
// its dialable host.
func startGossipServer(t *testing.T, srv *Server) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/gossip", srv)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	return u.Host
}

func TestServer_EndToEndSync(t *testing.T) {
	const rid = "rid:demo"
	serverID := testIdentity(t)
	clientID := testIdentity(t)
	author := testIdentity(t)

	serverStore, err := cob.Open(t.TempDir())
	require.NoError(t, err)
	issueID, err := serverStore.Create(author, cob.KindIssue, "served issue", "over websockets")
	require.NoError(t, err)
	_, err = serverStore.Append(author, cob.KindIssue, issueID, cob.Action{Type: cob.ActionComment, Body: "ws body"})
	require.NoError(t, err)

	serverDB, err := tracking.Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	defer serverDB.Close()
	require.NoError(t, serverDB.AddInventory(rid))

	host := startGossipServer(t, NewServer(serverID.DID, "srv", serverStore, serverDB, NewBus()))

	clientDB, err := tracking.Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	defer clientDB.Close()
	require.NoError(t, clientDB.AddPeer(serverID.DID, "srv", host))
	require.NoError(t, clientDB.Track(rid, serverID.DID, ""))

	clientStore, err := cob.Open(t.TempDir())
	require.NoError(t, err)
	fetcher := NewFetcher(clientDB, clientStore, WebsocketDialer(clientID.DID), NewBus())

	summary, err := fetcher.Fetch(context.Background(), rid)
	require.NoError(t, err)
	require.Len(t, summary.Succeeded, 1)
	assert.Empty(t, summary.Failed)
	assert.Equal(t, serverID.DID, summary.Succeeded[0].DID)
	assert.Equal(t, 2, summary.Succeeded[0].Ops)

	state, err := clientStore.Materialize(cob.KindIssue, issueID)
	require.NoError(t, err)
	assert.Equal(t, "served issue", state.Title)
	require.Len(t, state.Comments, 1)
	assert.Equal(t, "ws body", state.Comments[0].Body)
}

func TestServer_WantExpandsAncestors(t *testing.T) {
	const rid = "rid:demo"
	serverID := testIdentity(t)
	clientID := testIdentity(t)
	author := testIdentity(t)

	serverStore, err := cob.Open(t.TempDir())
	require.NoError(t, err)
	issueID, err := serverStore.Create(author, cob.KindIssue, "deep issue", "")
	require.NoError(t, err)
	const depth = 12
	for i := 0; i < depth; i++ {
		_, err = serverStore.Append(author, cob.KindIssue, issueID, cob.Action{Type: cob.ActionComment, Body: "more"})
		require.NoError(t, err)
	}
	tips, err := serverStore.Tips(cob.KindIssue, issueID)
	require.NoError(t, err)

	serverDB, err := tracking.Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	defer serverDB.Close()
	require.NoError(t, serverDB.AddInventory(rid))

	host := startGossipServer(t, NewServer(serverID.DID, "srv", serverStore, serverDB, NewBus()))

	conn, err := WebsocketDialer(clientID.DID)(context.Background(), host)
	require.NoError(t, err)
	defer conn.Close()

	// Asking for the tip alone yields its whole ancestor closure, so a
	// client never needs one round per generation.
	ops, err := conn.Want(context.Background(), rid, cob.KindIssue, issueID, tips)
	require.NoError(t, err)
	assert.Len(t, ops, depth+1)
}

func TestServer_UnseededRepositoryRefused(t *testing.T) {
	serverID := testIdentity(t)
	clientID := testIdentity(t)

	serverStore, err := cob.Open(t.TempDir())
	require.NoError(t, err)
	serverDB, err := tracking.Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	defer serverDB.Close()

	host := startGossipServer(t, NewServer(serverID.DID, "srv", serverStore, serverDB, NewBus()))

	conn, err := WebsocketDialer(clientID.DID)(context.Background(), host)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, serverID.DID, conn.DID())

	_, err = conn.LsRefs(context.Background(), "rid:never-seeded")
	assert.Error(t, err)
}

func TestServer_RejectsBadHandshake(t *testing.T) {
	serverID := testIdentity(t)
	serverStore, err := cob.Open(t.TempDir())
	require.NoError(t, err)
	serverDB, err := tracking.Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	defer serverDB.Close()

	host := startGossipServer(t, NewServer(serverID.DID, "srv", serverStore, serverDB, NewBus()))

	_, err = WebsocketDialer("not-a-did")(context.Background(), host)
	assert.Error(t, err)
}

func TestServer_RecordsAnnouncement(t *testing.T) {
	const rid = "rid:demo"
	serverID := testIdentity(t)
	clientID := testIdentity(t)

	serverStore, err := cob.Open(t.TempDir())
	require.NoError(t, err)
	serverDB, err := tracking.Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	defer serverDB.Close()

	bus := NewBus()
	host := startGossipServer(t, NewServer(serverID.DID, "srv", serverStore, serverDB, bus))

	clientStore, err := cob.Open(t.TempDir())
	require.NoError(t, err)
	_, err = clientStore.Create(clientID, cob.KindIssue, "mine", "")
	require.NoError(t, err)

	clientDB, err := tracking.Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	defer clientDB.Close()
	require.NoError(t, clientDB.AddPeer(serverID.DID, "srv", host))
	require.NoError(t, clientDB.Track(rid, serverID.DID, ""))

	// The handshake emits peerConnected before the announce is handled, so
	// subscribe for both and pick the announce event out.
	done := make(chan []Event, 1)
	go func() { done <- bus.Subscribe(2, 5*time.Second) }()
	time.Sleep(20 * time.Millisecond) // let the subscriber register

	ann := NewAnnouncer(clientDB, clientStore, WebsocketDialer(clientID.DID), clientID.DID, "client")
	require.NoError(t, ann.Announce(context.Background(), rid))

	events := <-done
	var announced *Event
	for i := range events {
		if events[i].Type == EventRefsAnnounced {
			announced = &events[i]
		}
	}
	// Announce handling is fire-and-forget; the event fires only after the
	// refs are recorded, so seeing it means the database write is done.
	require.NotNil(t, announced, "no refsAnnounced event in %+v", events)
	assert.Equal(t, clientID.DID, announced.Remote)
	assert.Equal(t, rid, announced.RID)

	refs, err := serverDB.RemoteRefs(clientID.DID, rid)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	for _, tips := range refs {
		assert.NotEmpty(t, tips)
	}
}
