package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func TestMapPostgresErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"foreign key violation", &pq.Error{Code: "23503"}, ErrForeignKey},
		{"unique violation", &pq.Error{Code: "23505"}, ErrAlreadyExists},
		{"taxonomy passthrough not found", ErrNotFound, ErrNotFound},
		{"taxonomy passthrough already exists", ErrAlreadyExists, ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapPostgresErr("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("mapPostgresErr(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	t.Run("unknown error becomes transaction error", func(t *testing.T) {
		got := mapPostgresErr("append", errors.New("connection reset"))
		var txErr *TransactionError
		if !errors.As(got, &txErr) || txErr.Op != "append" {
			t.Errorf("mapPostgresErr = %v, want TransactionError{Op: append}", got)
		}
	})
}

func TestPostgresGetChatNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, user_id, title, metadata, created_at, updated_at FROM chats`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "metadata", "created_at", "updated_at"}))

	if _, err := s.GetChat(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresGetChat(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT id, user_id, title, metadata, created_at, updated_at FROM chats`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "metadata", "created_at", "updated_at"}).
			AddRow("c1", "u1", "hello", []byte(`{"k":"v"}`), now, now))

	chat, err := s.GetChat(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if chat.ID != "c1" || chat.UserID != "u1" || chat.Title != "hello" {
		t.Errorf("chat = %+v", chat)
	}
	if chat.Metadata["k"] != "v" {
		t.Errorf("metadata = %+v", chat.Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresSetActiveBranchNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE branches SET is_active = \$1 WHERE chat_id = \$2 AND name = \$3`).
		WithArgs(true, "c1", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := s.SetActiveBranch(context.Background(), "c1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresAddMessageForeignKey(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO messages`).
		WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectRollback()

	msg := turn("note", "hello")
	msg.ID = "m1"
	msg.ChatID = "missing-chat"
	if err := s.AddMessage(context.Background(), msg); !errors.Is(err, ErrForeignKey) {
		t.Errorf("err = %v, want ErrForeignKey", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresSearchMessages(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`FROM message_search ms`).
		WithArgs("c1", "fox").
		WillReturnRows(sqlmock.NewRows([]string{"id", "chat_id", "parent_id", "name", "type", "data", "created_at"}).
			AddRow("m1", "c1", nil, "note", "user", []byte(`"the quick brown fox"`), now))

	msgs, err := s.SearchMessages(context.Background(), "c1", "fox")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("msgs = %+v", msgs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresListMessagesEmptyHead(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT head_message_id FROM branches`).
		WithArgs("c1", "main").
		WillReturnRows(sqlmock.NewRows([]string{"head_message_id"}).AddRow(nil))

	msgs, err := s.ListMessages(context.Background(), "c1", "main")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("msgs = %+v, want empty for nil head", msgs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}
