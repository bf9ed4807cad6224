package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/clock"
	"github.com/jijenga/referral/internal/referrallink/domain"
	"github.com/jijenga/referral/internal/referrallink/repository"
	"github.com/jijenga/referral/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newFixture(t *testing.T) (*Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	gdb := testutil.OpenDB(t)
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, gdb, node
}

func seedOwner(t *testing.T, gdb *gorm.DB, node *snowflake.Node, email string) snowflake.ID {
	t.Helper()
	id := node.Generate()
	require.NoError(t, gdb.Exec(
		`INSERT INTO users (id, email, phone_number, password_hash) VALUES (?, ?, ?, 'x')`,
		id, email, "+2547"+id.String(),
	).Error)
	return id
}

func TestAllocate(t *testing.T) {
	svc, gdb, node := newFixture(t)
	owner := seedOwner(t, gdb, node, "a@example.com")

	link, err := svc.Allocate(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, owner, link.OwnerUserID)
	assert.Equal(t, domain.StatusActive, link.Status)
	assert.Len(t, link.Code, 8)
	for _, r := range link.Code {
		assert.True(t, strings.ContainsRune(codeAlphabet, r), "code %q uses alphabet", link.Code)
	}
	assert.Zero(t, link.ClickCount)
	assert.Zero(t, link.ConversionCount)
}

func TestAllocateIsOncePerOwner(t *testing.T) {
	svc, gdb, node := newFixture(t)
	owner := seedOwner(t, gdb, node, "a@example.com")

	_, err := svc.Allocate(context.Background(), owner)
	require.NoError(t, err)

	_, err = svc.Allocate(context.Background(), owner)
	assert.ErrorIs(t, err, domain.ErrLinkExists)

	var count int64
	require.NoError(t, gdb.Raw(`SELECT COUNT(*) FROM referral_links WHERE owner_user_id = ?`, owner).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFindByCode(t *testing.T) {
	svc, gdb, node := newFixture(t)
	owner := seedOwner(t, gdb, node, "a@example.com")

	link, err := svc.Allocate(context.Background(), owner)
	require.NoError(t, err)

	found, err := svc.FindByCode(context.Background(), link.Code)
	require.NoError(t, err)
	assert.Equal(t, link.ID, found.ID)

	_, err = svc.FindByCode(context.Background(), "ZZZZ9999")
	assert.ErrorIs(t, err, domain.ErrLinkNotFound)
}

func TestFindByOwner(t *testing.T) {
	svc, gdb, node := newFixture(t)
	owner := seedOwner(t, gdb, node, "a@example.com")
	stranger := seedOwner(t, gdb, node, "b@example.com")

	link, err := svc.Allocate(context.Background(), owner)
	require.NoError(t, err)

	found, err := svc.FindByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, link.ID, found.ID)

	_, err = svc.FindByOwner(context.Background(), stranger)
	assert.ErrorIs(t, err, domain.ErrLinkNotFound)
}
