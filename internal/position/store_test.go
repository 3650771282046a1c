package position

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"xgateway/pkg/proto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateTableThenGetPositionsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pos.db")

	s, err := Open(path, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.CreateTable(7); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	positions, ok := s.GetPositions(7)
	if !ok {
		t.Fatal("GetPositions: ok = false, want true after CreateTable")
	}
	if len(positions) != 0 {
		t.Errorf("positions = %+v, want empty", positions)
	}
}

func TestGetPositionsUnknownSession(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pos.db")

	s, err := Open(path, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok := s.GetPositions(42); ok {
		t.Error("GetPositions: ok = true for a session that never logged in")
	}
}

func TestUpdateIsReflectedInCacheImmediately(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pos.db")

	s, err := Open(path, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.CreateTable(3); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	s.Update(3, proto.Position{Symbol: "btcusdt", Net: 1.5})

	positions, ok := s.GetPositions(3)
	if !ok {
		t.Fatal("GetPositions: ok = false")
	}
	p, ok := positions["btcusdt"]
	if !ok {
		t.Fatal("position for btcusdt missing from cache")
	}
	if p.Net != 1.5 {
		t.Errorf("net = %v, want 1.5", p.Net)
	}

	// GetPositions must return an independent copy, not a live view.
	positions["btcusdt"] = proto.Position{Symbol: "btcusdt", Net: 999}
	again, _ := s.GetPositions(3)
	if again["btcusdt"].Net != 1.5 {
		t.Errorf("GetPositions snapshot was mutated through a returned map: net = %v", again["btcusdt"].Net)
	}
}

func TestDropTableRemovesSessionFromCache(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pos.db")

	s, err := Open(path, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.CreateTable(9); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	s.Update(9, proto.Position{Symbol: "ethusdt", Net: 2})

	if err := s.DropTable(9); err != nil {
		t.Fatalf("DropTable: %v", err)
	}

	if _, ok := s.GetPositions(9); ok {
		t.Error("GetPositions: ok = true after DropTable")
	}
}
