package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/weave/pkg/models"
)

// forEachStore runs a test against every embedded backend. Postgres is
// covered separately with sqlmock.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "weave.db")})
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func seedChat(t *testing.T, s Store, id string) *models.Chat {
	t.Helper()
	chat := &models.Chat{ID: id, UserID: "u1", Title: "test chat"}
	if err := s.UpsertChat(context.Background(), chat); err != nil {
		t.Fatalf("upsert chat: %v", err)
	}
	return chat
}

func turn(name, text string) *models.Message {
	data, _ := json.Marshal(text)
	return models.NewMessage("", name, string(models.FragmentUser), data)
}

func appendTurns(t *testing.T, s Store, chatID, branch string, texts ...string) []*models.Message {
	t.Helper()
	msgs := make([]*models.Message, 0, len(texts))
	for _, text := range texts {
		msgs = append(msgs, turn("msg", text))
	}
	chat := &models.Chat{ID: chatID, UserID: "u1"}
	if err := s.Append(context.Background(), chat, branch, msgs); err != nil {
		t.Fatalf("append: %v", err)
	}
	return msgs
}

func TestUpsertChatPreservesCreatedAt(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedChat(t, s, "c1")

		first, err := s.GetChat(ctx, "c1")
		if err != nil {
			t.Fatalf("get chat: %v", err)
		}

		time.Sleep(10 * time.Millisecond)
		if err := s.UpsertChat(ctx, &models.Chat{ID: "c1", UserID: "u1", Title: "renamed"}); err != nil {
			t.Fatalf("re-upsert: %v", err)
		}

		second, err := s.GetChat(ctx, "c1")
		if err != nil {
			t.Fatalf("get chat after upsert: %v", err)
		}
		if second.Title != "renamed" {
			t.Errorf("title = %q, want %q", second.Title, "renamed")
		}
		if !second.CreatedAt.Equal(first.CreatedAt) {
			t.Errorf("CreatedAt changed on upsert: %v -> %v", first.CreatedAt, second.CreatedAt)
		}
		if !second.UpdatedAt.After(first.UpdatedAt) {
			t.Errorf("UpdatedAt not advanced: %v -> %v", first.UpdatedAt, second.UpdatedAt)
		}
	})
}

func TestGetChatNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		if _, err := s.GetChat(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestAddMessageForeignKeys(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		msg := turn("orphan", "no chat")
		msg.ID = "m-orphan"
		msg.ChatID = "missing-chat"
		if err := s.AddMessage(ctx, msg); !errors.Is(err, ErrForeignKey) {
			t.Errorf("missing chat: err = %v, want ErrForeignKey", err)
		}

		seedChat(t, s, "c1")
		bad := turn("child", "dangling parent")
		bad.ID = "m-child"
		bad.ChatID = "c1"
		parent := "does-not-exist"
		bad.ParentID = &parent
		if err := s.AddMessage(ctx, bad); !errors.Is(err, ErrForeignKey) {
			t.Errorf("missing parent: err = %v, want ErrForeignKey", err)
		}

		// Parent in a different chat is also a violation.
		seedChat(t, s, "c2")
		appendTurns(t, s, "c2", "", "other chat root")
		msgs, _ := s.ChatMessages(ctx, "c2")
		cross := turn("cross", "wrong chat parent")
		cross.ID = "m-cross"
		cross.ChatID = "c1"
		cross.ParentID = &msgs[0].ID
		if err := s.AddMessage(ctx, cross); !errors.Is(err, ErrForeignKey) {
			t.Errorf("cross-chat parent: err = %v, want ErrForeignKey", err)
		}
	})
}

func TestMessageUpsertKeepsCreatedAt(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedChat(t, s, "c1")

		msg := turn("note", "first version")
		msg.ID = "m1"
		msg.ChatID = "c1"
		if err := s.AddMessage(ctx, msg); err != nil {
			t.Fatalf("add: %v", err)
		}
		stored, err := s.GetMessage(ctx, "m1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}

		time.Sleep(10 * time.Millisecond)
		update := turn("note", "second version")
		update.ID = "m1"
		update.ChatID = "c1"
		update.CreatedAt = time.Now()
		if err := s.AddMessage(ctx, update); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		after, err := s.GetMessage(ctx, "m1")
		if err != nil {
			t.Fatalf("get after upsert: %v", err)
		}
		if !after.CreatedAt.Equal(stored.CreatedAt) {
			t.Errorf("CreatedAt changed on upsert: %v -> %v", stored.CreatedAt, after.CreatedAt)
		}
		var text string
		if err := json.Unmarshal(after.Data, &text); err != nil || text != "second version" {
			t.Errorf("data = %s, want %q", after.Data, "second version")
		}
	})
}

func TestAppendChainsAndAdvancesHead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		appendTurns(t, s, "c1", "", "one", "two", "three")

		msgs, err := s.ListMessages(ctx, "c1", models.MainBranch)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("len = %d, want 3", len(msgs))
		}
		if msgs[0].ParentID != nil {
			t.Errorf("root has parent %v", *msgs[0].ParentID)
		}
		for i := 1; i < len(msgs); i++ {
			if msgs[i].ParentID == nil || *msgs[i].ParentID != msgs[i-1].ID {
				t.Errorf("msg %d not chained to predecessor", i)
			}
		}
		var texts []string
		for _, m := range msgs {
			var text string
			if err := json.Unmarshal(m.Data, &text); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			texts = append(texts, text)
		}
		want := []string{"one", "two", "three"}
		for i := range want {
			if texts[i] != want[i] {
				t.Errorf("texts[%d] = %q, want %q", i, texts[i], want[i])
			}
		}

		branches, err := s.ListBranches(ctx, "c1")
		if err != nil {
			t.Fatalf("list branches: %v", err)
		}
		if len(branches) != 1 || branches[0].Name != models.MainBranch || !branches[0].IsActive {
			t.Fatalf("expected a single active main branch, got %+v", branches)
		}
		if branches[0].HeadMessageID == nil || *branches[0].HeadMessageID != msgs[2].ID {
			t.Errorf("head not advanced to last message")
		}

		// A second append continues from the head.
		appendTurns(t, s, "c1", "", "four")
		msgs, _ = s.ListMessages(ctx, "c1", models.MainBranch)
		if len(msgs) != 4 {
			t.Fatalf("after second append len = %d, want 4", len(msgs))
		}
		if *msgs[3].ParentID != msgs[2].ID {
			t.Errorf("second append not chained to previous head")
		}
	})
}

func TestAppendIsAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		bad := turn("bad", "dangling")
		parent := "missing-parent"
		bad.ParentID = &parent
		err := s.Append(ctx, &models.Chat{ID: "c1", UserID: "u1"}, "", []*models.Message{turn("ok", "fine"), bad})
		if !errors.Is(err, ErrForeignKey) {
			t.Fatalf("err = %v, want ErrForeignKey", err)
		}

		// Nothing from the failed batch is visible, not even the chat.
		if _, err := s.GetChat(ctx, "c1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("chat visible after failed append: err = %v", err)
		}
		msgs, _ := s.ChatMessages(ctx, "c1")
		if len(msgs) != 0 {
			t.Errorf("%d messages visible after failed append", len(msgs))
		}
	})
}

func TestBranchForkIsIndependent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		appendTurns(t, s, "c1", "", "root", "main-tip")
		mainMsgs, _ := s.ListMessages(ctx, "c1", models.MainBranch)

		// Fork from the root, not the tip.
		alt := models.NewBranch("c1", "alt")
		alt.HeadMessageID = &mainMsgs[0].ID
		if err := s.CreateBranch(ctx, alt); err != nil {
			t.Fatalf("create branch: %v", err)
		}
		appendTurns(t, s, "c1", "alt", "alt-tip")

		altMsgs, err := s.ListMessages(ctx, "c1", "alt")
		if err != nil {
			t.Fatalf("list alt: %v", err)
		}
		if len(altMsgs) != 2 {
			t.Fatalf("alt len = %d, want 2", len(altMsgs))
		}
		if altMsgs[0].ID != mainMsgs[0].ID {
			t.Errorf("alt does not share the root")
		}

		// Main is untouched.
		after, _ := s.ListMessages(ctx, "c1", models.MainBranch)
		if len(after) != 2 || after[1].ID != mainMsgs[1].ID {
			t.Errorf("main branch changed by fork")
		}

		// The forest holds all three nodes.
		all, _ := s.ChatMessages(ctx, "c1")
		if len(all) != 3 {
			t.Errorf("forest len = %d, want 3", len(all))
		}
	})
}

func TestCreateBranchDuplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedChat(t, s, "c1")
		if err := s.CreateBranch(ctx, models.NewBranch("c1", "alt")); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := s.CreateBranch(ctx, models.NewBranch("c1", "alt")); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("err = %v, want ErrAlreadyExists", err)
		}
	})
}

func TestSetActiveBranchIsExclusive(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		appendTurns(t, s, "c1", "", "root")
		if err := s.CreateBranch(ctx, models.NewBranch("c1", "alt")); err != nil {
			t.Fatalf("create: %v", err)
		}

		if err := s.SetActiveBranch(ctx, "c1", "alt"); err != nil {
			t.Fatalf("set active: %v", err)
		}
		branches, _ := s.ListBranches(ctx, "c1")
		active := 0
		for _, b := range branches {
			if b.IsActive {
				active++
				if b.Name != "alt" {
					t.Errorf("active branch = %q, want alt", b.Name)
				}
			}
		}
		if active != 1 {
			t.Errorf("active count = %d, want 1", active)
		}

		if err := s.SetActiveBranch(ctx, "c1", "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestCheckpointRestore(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		appendTurns(t, s, "c1", "", "one")
		msgs, _ := s.ListMessages(ctx, "c1", models.MainBranch)

		cp := &models.Checkpoint{ChatID: "c1", Name: "cp1", MessageID: msgs[0].ID}
		if err := s.CreateCheckpoint(ctx, cp); err != nil {
			t.Fatalf("create checkpoint: %v", err)
		}

		appendTurns(t, s, "c1", "", "two", "three")

		if err := s.RestoreCheckpoint(ctx, "c1", "cp1", ""); err != nil {
			t.Fatalf("restore: %v", err)
		}
		after, _ := s.ListMessages(ctx, "c1", models.MainBranch)
		if len(after) != 1 || after[0].ID != msgs[0].ID {
			t.Fatalf("restored branch = %d messages, want the checkpointed head only", len(after))
		}

		// Restore abandons reachability, never data: all nodes survive.
		all, _ := s.ChatMessages(ctx, "c1")
		if len(all) != 3 {
			t.Errorf("forest len = %d after restore, want 3", len(all))
		}

		// The checkpoint itself is immutable and still listed.
		cps, _ := s.ListCheckpoints(ctx, "c1")
		if len(cps) != 1 || cps[0].MessageID != msgs[0].ID {
			t.Errorf("checkpoint mutated: %+v", cps)
		}

		if err := s.RestoreCheckpoint(ctx, "c1", "missing", ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("restore missing: err = %v, want ErrNotFound", err)
		}
	})
}

func TestCheckpointValidation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		appendTurns(t, s, "c1", "", "one")
		msgs, _ := s.ListMessages(ctx, "c1", models.MainBranch)

		if err := s.CreateCheckpoint(ctx, &models.Checkpoint{ChatID: "c1", Name: "cp", MessageID: "missing"}); !errors.Is(err, ErrForeignKey) {
			t.Errorf("unknown message: err = %v, want ErrForeignKey", err)
		}

		good := &models.Checkpoint{ChatID: "c1", Name: "cp", MessageID: msgs[0].ID}
		if err := s.CreateCheckpoint(ctx, good); err != nil {
			t.Fatalf("create: %v", err)
		}
		dup := &models.Checkpoint{ChatID: "c1", Name: "cp", MessageID: msgs[0].ID}
		if err := s.CreateCheckpoint(ctx, dup); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("duplicate: err = %v, want ErrAlreadyExists", err)
		}
	})
}

func TestSearchReflectsLatestContent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedChat(t, s, "c1")

		msg := turn("note", "the quick brown fox")
		msg.ID = "m1"
		msg.ChatID = "c1"
		if err := s.AddMessage(ctx, msg); err != nil {
			t.Fatalf("add: %v", err)
		}

		hits, err := s.SearchMessages(ctx, "c1", "quick")
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 1 || hits[0].ID != "m1" {
			t.Fatalf("search quick = %d hits, want m1", len(hits))
		}

		// Upserting the message re-indexes it in the same operation.
		update := turn("note", "slow purple turtle")
		update.ID = "m1"
		update.ChatID = "c1"
		if err := s.AddMessage(ctx, update); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		hits, _ = s.SearchMessages(ctx, "c1", "quick")
		if len(hits) != 0 {
			t.Errorf("stale index: %d hits for old content", len(hits))
		}
		hits, _ = s.SearchMessages(ctx, "c1", "turtle")
		if len(hits) != 1 {
			t.Errorf("new content not indexed: %d hits", len(hits))
		}

		// Search is scoped to the chat.
		hits, _ = s.SearchMessages(ctx, "other", "turtle")
		if len(hits) != 0 {
			t.Errorf("search leaked across chats: %d hits", len(hits))
		}
	})
}

func TestDeleteChatCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		appendTurns(t, s, "c1", "", "one", "two")
		msgs, _ := s.ListMessages(ctx, "c1", models.MainBranch)
		if err := s.CreateCheckpoint(ctx, &models.Checkpoint{ChatID: "c1", Name: "cp", MessageID: msgs[0].ID}); err != nil {
			t.Fatalf("checkpoint: %v", err)
		}

		if err := s.DeleteChat(ctx, "c1"); err != nil {
			t.Fatalf("delete: %v", err)
		}

		if _, err := s.GetChat(ctx, "c1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("chat survived delete")
		}
		if _, err := s.GetMessage(ctx, msgs[0].ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("message survived delete")
		}
		branches, _ := s.ListBranches(ctx, "c1")
		if len(branches) != 0 {
			t.Errorf("%d branches survived delete", len(branches))
		}
		cps, _ := s.ListCheckpoints(ctx, "c1")
		if len(cps) != 0 {
			t.Errorf("%d checkpoints survived delete", len(cps))
		}
		hits, _ := s.SearchMessages(ctx, "c1", "one")
		if len(hits) != 0 {
			t.Errorf("search index survived delete")
		}

		if err := s.DeleteChat(ctx, "c1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second delete: err = %v, want ErrNotFound", err)
		}
	})
}

func TestListMessagesUnknownBranch(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		appendTurns(t, s, "c1", "", "one")
		if _, err := s.ListMessages(context.Background(), "c1", "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}
