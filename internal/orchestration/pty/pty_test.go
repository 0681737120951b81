//go:build unix

package pty

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"
)

func TestSpawn_MissingExecutable(t *testing.T) {
	_, err := Spawn(context.Background(), []string{"/no/such/binary-xyz"}, nil, "")
	if err == nil {
		t.Fatal("expected error for missing executable")
	}
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("expected ErrSpawnFailed, got %v", err)
	}
}

func TestSpawn_EmptyCommand(t *testing.T) {
	_, err := Spawn(context.Background(), nil, nil, "")
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("expected ErrSpawnFailed, got %v", err)
	}
}

func TestSession_WriteLineAndReadNonblocking(t *testing.T) {
	sess, err := Spawn(context.Background(), []string{"cat"}, nil, "")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer sess.Close(100 * time.Millisecond)

	if err := sess.WriteLine("hello"); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var got []byte
	for time.Now().Before(deadline) {
		b, err := sess.ReadNonblocking(4096)
		if err == nil {
			got = append(got, b...)
			if len(got) > 0 {
				break
			}
		} else if !errors.Is(err, ErrWouldBlock) {
			t.Fatalf("unexpected read error: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(got) == 0 {
		t.Fatal("expected echoed bytes, got none")
	}
}

func TestSession_Expect_MatchesPattern(t *testing.T) {
	sess, err := Spawn(context.Background(), []string{"cat"}, nil, "")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer sess.Close(100 * time.Millisecond)

	if err := sess.WriteLine("Delete \"config.py\"? (y/n)"); err != nil {
		t.Fatalf("write: %v", err)
	}

	pattern := regexp.MustCompile(`(?i)delete`)
	result, err := sess.Expect([]*regexp.Regexp{pattern}, 2*time.Second)
	if err != nil {
		t.Fatalf("expect: %v", err)
	}
	if result.Index != 0 {
		t.Fatalf("expected index 0, got %d", result.Index)
	}
}

func TestSession_Expect_TimesOutWithoutMatch(t *testing.T) {
	sess, err := Spawn(context.Background(), []string{"cat"}, nil, "")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer sess.Close(100 * time.Millisecond)

	pattern := regexp.MustCompile(`never-appears-xyz`)
	_, err = sess.Expect([]*regexp.Regexp{pattern}, 100*time.Millisecond)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
}

func TestSession_Close_ReturnsExitCode(t *testing.T) {
	sess, err := Spawn(context.Background(), []string{"sh", "-c", "exit 0"}, nil, "")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err := sess.ReadNonblocking(4096)
		if errors.Is(err, io.EOF) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	code, err := sess.Close(time.Second)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestSession_Close_Idempotent(t *testing.T) {
	sess, err := Spawn(context.Background(), []string{"cat"}, nil, "")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if _, err := sess.Close(100 * time.Millisecond); err != nil {
		t.Fatalf("first close: %v", err)
	}
	code, err := sess.Close(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if code != -1 {
		t.Fatalf("expected -1 for already-closed session, got %d", code)
	}
}
