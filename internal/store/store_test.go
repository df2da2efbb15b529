package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mossy-p/jam-signaling/internal/models"
)

func name(s string) *string { return &s }

// exerciseStore runs the behavior every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if _, err := s.GetMusician(ctx, 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMusician(missing) err=%v, want ErrNotFound", err)
	}

	alex := &models.Musician{ID: 1, Name: name("Alex"), UpdatedBy: "u1", UpdatedAt: now}
	sam := &models.Musician{ID: 2, UpdatedAt: now}
	for _, m := range []*models.Musician{alex, sam} {
		if err := s.PutMusician(ctx, m); err != nil {
			t.Fatalf("PutMusician(%d): %v", m.ID, err)
		}
	}
	got, err := s.GetMusician(ctx, 1)
	if err != nil {
		t.Fatalf("GetMusician: %v", err)
	}
	if got.Name == nil || *got.Name != "Alex" || got.UpdatedBy != "u1" || !got.UpdatedAt.Equal(now) {
		t.Fatalf("GetMusician=%+v", got)
	}
	if got, _ := s.GetMusician(ctx, 2); got.Name != nil {
		t.Fatalf("unnamed musician came back with name %q", *got.Name)
	}

	band := &models.Band{ID: 7, Name: name("Trio"), Members: []models.Musician{*sam, *alex}, UpdatedAt: now}
	if err := s.PutBand(ctx, band); err != nil {
		t.Fatalf("PutBand: %v", err)
	}
	gotBand, err := s.GetBand(ctx, 7)
	if err != nil {
		t.Fatalf("GetBand: %v", err)
	}
	if len(gotBand.Members) != 2 || gotBand.Members[0].ID != 2 || gotBand.Members[1].ID != 1 {
		t.Fatalf("band members=%+v, want [2 1]", gotBand.Members)
	}

	// Put replaces membership.
	band.Members = []models.Musician{*alex}
	if err := s.PutBand(ctx, band); err != nil {
		t.Fatalf("PutBand: %v", err)
	}
	if gotBand, _ := s.GetBand(ctx, 7); len(gotBand.Members) != 1 {
		t.Fatalf("band members=%+v after replace", gotBand.Members)
	}

	if _, err := s.GetSession(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("bands and sessions share ids: err=%v", err)
	}
	session := &models.Session{ID: 7, Name: name("hej"), Members: []models.Musician{*alex, *sam}, UpdatedAt: now}
	if err := s.PutSession(ctx, session); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	gotSession, err := s.GetSession(ctx, 7)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if *gotSession.Name != "hej" || len(gotSession.Members) != 2 {
		t.Fatalf("GetSession=%+v", gotSession)
	}
}

func TestBolt(t *testing.T) {
	s, err := NewBolt(filepath.Join(t.TempDir(), "jam.db"))
	if err != nil {
		t.Fatalf("NewBolt: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestBolt_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jam.db")
	s, err := NewBolt(path)
	if err != nil {
		t.Fatalf("NewBolt: %v", err)
	}
	if err := s.PutMusician(context.Background(), &models.Musician{ID: 3, Name: name("Kim")}); err != nil {
		t.Fatalf("PutMusician: %v", err)
	}
	s.Close()

	s, err = NewBolt(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	m, err := s.GetMusician(context.Background(), 3)
	if err != nil || *m.Name != "Kim" {
		t.Fatalf("GetMusician after reopen = %+v, %v", m, err)
	}
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	defer client.Close()
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("FlushDB: %v", err)
	}
	exerciseStore(t, NewRedis(client))
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgres(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer s.Close()
	if _, err := s.pool.Exec(ctx, `TRUNCATE musicians, bands, band_members, sessions, session_members`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	exerciseStore(t, s)
}
