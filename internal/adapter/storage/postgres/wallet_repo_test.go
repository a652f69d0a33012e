package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWallet(owner string) *domain.Wallet {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Wallet{
		ID:          uuid.New(),
		OwnerUserID: owner,
		Label:       "main",
		Address:     "0x71C7656EC7ab88b098defB751B7401B5f6d8976F",
		Envelope: domain.EncryptionEnvelope{
			Ciphertext: []byte("sealed-key-bytes"),
			Nonce:      []byte("nonce-12byte"),
			KeyVersion: 1,
		},
		KDF: domain.KeyDerivationParams{
			Algorithm: domain.KDFAlgorithmHKDFSHA256,
			Salt:      []byte("salt-salt-salt-s"),
			Info:      "wallet-key",
		},
		Source:    domain.WalletSourceGenerated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func walletColumns() []string {
	return []string{"id", "owner_user_id", "label", "address", "envelope_ciphertext", "envelope_nonce", "key_version",
		"kdf_algorithm", "kdf_salt", "kdf_info", "source", "created_at", "updated_at"}
}

func walletRow(rows *pgxmock.Rows, w *domain.Wallet) *pgxmock.Rows {
	return rows.AddRow(
		w.ID, w.OwnerUserID, w.Label, w.Address,
		w.Envelope.Ciphertext, w.Envelope.Nonce, w.Envelope.KeyVersion,
		w.KDF.Algorithm, w.KDF.Salt, w.KDF.Info, string(w.Source),
		w.CreatedAt, w.UpdatedAt,
	)
}

func TestWalletRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet("user-1")

	mock.ExpectExec("INSERT INTO wallets").
		WithArgs(w.ID, w.OwnerUserID, w.Label, w.Address,
			w.Envelope.Ciphertext, w.Envelope.Nonce, w.Envelope.KeyVersion,
			w.KDF.Algorithm, w.KDF.Salt, w.KDF.Info, string(w.Source),
			w.CreatedAt, w.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), w)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_Create_Duplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	mock.ExpectExec("INSERT INTO wallets").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = repo.Create(context.Background(), newTestWallet("user-1"))
	assert.True(t, errors.Is(err, ports.ErrDuplicate))
}

func TestWalletRepo_CreateCapped(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet("user-1")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("INSERT INTO wallets").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = repo.CreateCapped(context.Background(), w, 3)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_CreateCapped_AtLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	err = repo.CreateCapped(context.Background(), newTestWallet("user-1"), 3)
	assert.ErrorIs(t, err, ports.ErrLimitReached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_CreateCapped_Uncapped(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	mock.ExpectExec("INSERT INTO wallets").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.CreateCapped(context.Background(), newTestWallet("user-1"), 0)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet("user-1")

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE id").
		WithArgs(w.ID).
		WillReturnRows(walletRow(pgxmock.NewRows(walletColumns()), w))

	result, err := repo.GetByID(context.Background(), w.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, w.ID, result.ID)
	assert.Equal(t, w.Envelope, result.Envelope)
	assert.Equal(t, w.KDF, result.KDF)
	assert.Equal(t, domain.WalletSourceGenerated, result.Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(walletColumns()))

	result, err := repo.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestWalletRepo_ListByOwner(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	a, b := newTestWallet("user-1"), newTestWallet("user-1")
	rows := walletRow(walletRow(pgxmock.NewRows(walletColumns()), a), b)

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE owner_user_id .+ ORDER BY created_at").
		WithArgs("user-1").
		WillReturnRows(rows)

	result, err := repo.ListByOwner(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, a.ID, result[0].ID)
	assert.Equal(t, b.ID, result[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_CountByOwner(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountByOwner(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestWalletRepo_UpdateEnvelope(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	id := uuid.New()
	env := domain.EncryptionEnvelope{Ciphertext: []byte("new"), Nonce: []byte("n"), KeyVersion: 2}
	kdf := domain.KeyDerivationParams{Algorithm: domain.KDFAlgorithmHKDFSHA256, Salt: []byte("s"), Info: "wallet-key"}

	mock.ExpectExec("UPDATE wallets").
		WithArgs(env.Ciphertext, env.Nonce, 2, kdf.Algorithm, kdf.Salt, kdf.Info, id, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.UpdateEnvelope(context.Background(), id, 1, env, kdf))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_UpdateEnvelope_Conflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	mock.ExpectExec("UPDATE wallets").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.UpdateEnvelope(context.Background(), uuid.New(), 1, domain.EncryptionEnvelope{KeyVersion: 2}, domain.KeyDerivationParams{})
	assert.True(t, errors.Is(err, ports.ErrConflict))
}
