package control

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "relayd.sock")
	srv := NewServer(socket)
	t.Cleanup(func() { srv.Stop() })
	return srv, socket
}

func TestCallRoundTrip(t *testing.T) {
	srv, socket := startTestServer(t)

	srv.Handle("echo", func(conn *ClientConn, req *Request) (any, error) {
		return map[string]string{"owner": req.Owner}, nil
	})
	srv.Handle("boom", func(conn *ClientConn, req *Request) (any, error) {
		return nil, errors.New("it broke")
	})

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	client, err := Dial(socket)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()
	client.SetOwner("alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result map[string]string
	if err := client.Call(ctx, "echo", nil, &result); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result["owner"] != "alice" {
		t.Errorf("owner = %q, want alice", result["owner"])
	}

	err = client.Call(ctx, "boom", nil, nil)
	if err == nil || err.Error() != "it broke" {
		t.Errorf("error = %v, want it broke", err)
	}

	err = client.Call(ctx, "missing", nil, nil)
	if err == nil {
		t.Error("expected unknown method error")
	}
}

func TestEventPush(t *testing.T) {
	srv, socket := startTestServer(t)

	srv.Handle("kickoff", func(conn *ClientConn, req *Request) (any, error) {
		go func() {
			conn.Push(Event{Type: "tick", Payload: ChatChunk{Text: "one"}})
			conn.Push(Event{Type: "tick", Payload: ChatChunk{Text: "two"}})
		}()
		return nil, nil
	})

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	client, err := Dial(socket)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Call(ctx, "kickoff", nil, nil); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	var got []string
	for len(got) < 2 {
		select {
		case event := <-client.Events():
			if event.Type != "tick" {
				t.Fatalf("event type = %q, want tick", event.Type)
			}
			var chunk ChatChunk
			if err := json.Unmarshal(event.Payload, &chunk); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			got = append(got, chunk.Text)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}

	if got[0] != "one" || got[1] != "two" {
		t.Errorf("events = %v, want [one two]", got)
	}
}

func TestDisconnectCallback(t *testing.T) {
	srv, socket := startTestServer(t)

	srv.Handle("bind", func(conn *ClientConn, req *Request) (any, error) {
		conn.BindOwner(req.Owner)
		return nil, nil
	})

	gone := make(chan []string, 1)
	srv.OnDisconnect(func(conn *ClientConn) {
		gone <- conn.Owners()
	})

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	client, err := Dial(socket)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	client.SetOwner("alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Call(ctx, "bind", nil, nil); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	client.Close()

	select {
	case owners := <-gone:
		if len(owners) != 1 || owners[0] != "alice" {
			t.Errorf("owners = %v, want [alice]", owners)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect callback never fired")
	}
}
