package realtime

import (
	"testing"

	"github.com/millatvt/millat-backend/internal/domain"
)

func newDetachedClient(id uint, kind domain.PrincipalKind, buffer int) *Client {
	return newClient(nil, domain.Principal{ID: id, Kind: kind}, buffer, 10, 10)
}

func TestHubEmitHonoursRoomsAndExcept(t *testing.T) {
	hub := NewHub()
	a := newDetachedClient(1, domain.KindStudent, 4)
	b := newDetachedClient(2, domain.KindTeacher, 4)
	outsider := newDetachedClient(3, domain.KindStudent, 4)
	hub.Join(a, "conversation:9")
	hub.Join(b, "conversation:9")
	hub.Join(outsider, "conversation:10")

	if n := hub.Emit("conversation:9", []byte(`{}`), a.ID()); n != 1 {
		t.Fatalf("expected one recipient, got %d", n)
	}
	if len(a.send) != 0 || len(b.send) != 1 || len(outsider.send) != 0 {
		t.Fatalf("unexpected queue lengths a=%d b=%d outsider=%d", len(a.send), len(b.send), len(outsider.send))
	}
}

func TestHubRemoveDropsEveryRoom(t *testing.T) {
	hub := NewHub()
	c := newDetachedClient(1, domain.KindStudent, 4)
	hub.Join(c, PersonalRoom(c.Principal()))
	hub.Join(c, ConversationRoom(1))
	hub.Join(c, ConversationRoom(2))
	hub.Leave(c, ConversationRoom(2))
	if hub.InRoom(c, ConversationRoom(2)) {
		t.Fatal("expected left room to be gone")
	}

	hub.Remove(c)
	if clients, rooms := hub.Stats(); clients != 0 || rooms != 0 {
		t.Fatalf("expected empty hub, got clients=%d rooms=%d", clients, rooms)
	}
	if n := hub.Emit(ConversationRoom(1), []byte(`{}`), ""); n != 0 {
		t.Fatalf("removed client must not receive, got %d", n)
	}
}

func TestHubSlowClientIsDisconnected(t *testing.T) {
	hub := NewHub()
	c := newDetachedClient(1, domain.KindTeacher, 1)
	hub.Join(c, "room")

	if n := hub.Emit("room", []byte(`1`), ""); n != 1 {
		t.Fatalf("expected first payload queued, got %d", n)
	}
	if n := hub.Emit("room", []byte(`2`), ""); n != 0 {
		t.Fatalf("expected overflow to drop, got %d", n)
	}
	select {
	case <-c.done:
	default:
		t.Fatal("expected overflowing client to be closed")
	}
}

func TestRoomNames(t *testing.T) {
	if got := ConversationRoom(42); got != "conversation:42" {
		t.Fatalf("unexpected conversation room %q", got)
	}
	if got := PersonalRoom(domain.Principal{ID: 7, Kind: domain.KindTeacher}); got != "teacher:7" {
		t.Fatalf("unexpected personal room %q", got)
	}
}
