package history

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time { return time.Date(2024, 5, 1, 9, 7, 0, 0, time.Local) }

func TestSnapshotKeepsAppendOrder(t *testing.T) {
	s := New()
	s.Append(RoleUser, "hi", "10:00")
	s.Append(RoleAssistant, "hello", "10:00")

	require.Equal(t, []Message{
		{Role: RoleUser, Content: "hi", Timestamp: "10:00"},
		{Role: RoleAssistant, Content: "hello", Timestamp: "10:00"},
	}, s.Snapshot())
}

func TestAppendStampsMissingTimestamp(t *testing.T) {
	s := New(WithClock(fixedClock))
	got := s.Append(RoleSystem, "", "")

	require.Equal(t, "09:07", got.Timestamp)
	require.Equal(t, "", s.Snapshot()[0].Content)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.Append(RoleUser, "original", "10:00")

	snap := s.Snapshot()
	snap[0].Content = "changed"
	snap = append(snap, Message{Role: RoleUser})

	require.Equal(t, "original", s.Snapshot()[0].Content)
	require.Equal(t, 1, s.Len())
}

func TestClear(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.Append(RoleUser, "x", "10:00")
	}
	s.Clear()

	require.Zero(t, s.Len())
	require.Empty(t, s.Snapshot())
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	cases := map[string][]Message{
		"empty": {},
		"single system note": {
			{Role: RoleSystem, Content: "note", Timestamp: "09:00"},
		},
		"mixed": {
			{Role: RoleUser, Content: "", Timestamp: "10:00"},
			{Role: RoleAssistant, Content: "line one\nline two\n\n```go\nfmt.Println(\"x\")\n```", Timestamp: "10:01"},
			{Role: RoleSystem, Content: "Error: boom", Timestamp: "10:02", Status: StatusFailed},
			{Role: RoleUser, Content: "unicode ✅ \t tabs", Timestamp: ""},
		},
	}

	for name, msgs := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "chat_history.json")
			src := New(WithClock(func() time.Time { return time.Time{} }))
			for _, m := range msgs {
				src.AppendMessage(m)
			}
			require.NoError(t, src.Persist(path))

			dst := New()
			require.NoError(t, dst.Restore(path))
			require.Equal(t, src.Snapshot(), dst.Snapshot())
		})
	}
}

func TestPersistWritesReadableJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.json")
	s := New()
	s.Append(RoleUser, "hi", "10:00")
	require.NoError(t, s.Persist(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `[{"role":"user","content":"hi","timestamp":"10:00"}]`, string(data))
	require.Contains(t, string(data), "\n  {")
}

func TestPersistOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.json")
	require.NoError(t, os.WriteFile(path, []byte("this is not json and is much longer than the result"), 0o644))

	require.NoError(t, New().Persist(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "[]\n", string(data))
}

func TestPersistFileMode(t *testing.T) {
	dir := t.TempDir()

	fresh := filepath.Join(dir, "fresh.json")
	require.NoError(t, New().Persist(fresh))
	info, err := os.Stat(fresh)
	require.NoError(t, err)
	require.Equal(t, FileMode, info.Mode().Perm())

	private := filepath.Join(dir, "private.json")
	require.NoError(t, os.WriteFile(private, []byte("[]"), 0o600))
	require.NoError(t, New().Persist(private))
	info, err = os.Stat(private)
	require.NoError(t, err)
	require.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
}

func TestInvalidUTF8ContentRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.json")
	src := New()
	stored := src.Append(RoleUser, "\xffa", "10:00")
	require.Equal(t, "\uFFFDa", stored.Content)
	require.NoError(t, src.Persist(path))

	dst := New()
	require.NoError(t, dst.Restore(path))
	require.Equal(t, src.Snapshot(), dst.Snapshot())
}

func TestPersistFailsForMissingDirectory(t *testing.T) {
	err := New().Persist(filepath.Join(t.TempDir(), "nope", "h.json"))
	require.Error(t, err)
}

func TestRestoreMissingFileLeavesStoreUntouched(t *testing.T) {
	s := New()
	s.Append(RoleUser, "keep me", "10:00")
	before := s.Snapshot()

	err := s.Restore(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, errors.Is(err, fs.ErrNotExist))
	require.Equal(t, before, s.Snapshot())
}

func TestRestoreMalformedFile(t *testing.T) {
	cases := map[string]string{
		"garbage":      "{not json",
		"object":       `{"role":"user"}`,
		"null":         "null",
		"null element": `[null]`,
		"bad role":     `[{"role":"robot","content":"x","timestamp":"10:00"}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "h.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			s := New()
			s.Append(RoleUser, "keep me", "10:00")

			err := s.Restore(path)
			var malformed *MalformedError
			require.ErrorAs(t, err, &malformed)
			require.Equal(t, path, malformed.Path)
			require.Equal(t, 1, s.Len())
		})
	}
}

func TestRestoreReplacesWholesale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"role":"assistant","content":"saved","timestamp":"08:30"}]`), 0o644))

	s := New()
	s.Append(RoleUser, "a", "10:00")
	s.Append(RoleUser, "b", "10:00")
	require.NoError(t, s.Restore(path))

	require.Equal(t, []Message{{Role: RoleAssistant, Content: "saved", Timestamp: "08:30"}}, s.Snapshot())
}

func TestParseRole(t *testing.T) {
	for _, r := range []string{"user", "assistant", "system"} {
		got, err := ParseRole(r)
		require.NoError(t, err)
		require.Equal(t, Role(r), got)
	}
	_, err := ParseRole("tool")
	require.Error(t, err)
}
