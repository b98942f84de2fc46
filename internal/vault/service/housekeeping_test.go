package service_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quollsec/strongbox/internal/vault/domain"
	"github.com/quollsec/strongbox/internal/vault/service"
	"github.com/quollsec/strongbox/internal/vault/store/drivers/memory"
)

func TestHousekeepingSweepsExpiredSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := memory.NewStore()
	now := time.Now().UTC()

	require.NoError(t, st.Sessions().CreateSession(ctx, domain.Session{
		ID:        "expired",
		UserID:    "u1",
		State:     domain.PasswordVerified,
		ExpiresAt: now.Add(-time.Minute),
	}))
	require.NoError(t, st.Sessions().CreateSession(ctx, domain.Session{
		ID:        "live",
		UserID:    "u1",
		State:     domain.PasswordVerified,
		ExpiresAt: now.Add(time.Hour),
	}))

	hk := service.NewHousekeepingService(st, slog.Default(), time.Hour)
	hk.Start() // sweeps immediately
	hk.Stop()

	_, err := st.Sessions().GetSession(ctx, "expired")
	require.Error(t, err)

	_, err = st.Sessions().GetSession(ctx, "live")
	require.NoError(t, err)
}
