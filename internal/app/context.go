package app

import (
	"context"
	"errors"
	"fmt"

	"prepline/internal/domain"
	"prepline/internal/repo"
)

// ResolveSession picks the active session: the explicit override when given,
// otherwise the only session in the workspace. Sessions are only ever
// created through intake, never on the fly.
func ResolveSession(ctx context.Context, override string, r repo.Repo) (domain.Session, error) {
	if override != "" {
		s, err := r.GetSession(ctx, override)
		if err != nil {
			return domain.Session{}, fmt.Errorf("session %s: %w", override, err)
		}
		return s, nil
	}
	s, err := r.SingleSession(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Session{}, errors.New("no sessions in this workspace; run intake first")
		}
		return domain.Session{}, err
	}
	return s, nil
}
