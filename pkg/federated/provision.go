package federated

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skyguard-io/skyguard/pkg/audit"
	"github.com/skyguard-io/skyguard/pkg/auth"
	"github.com/skyguard-io/skyguard/pkg/observability"
)

// Provisioner resolves a validated federated identity to a local user,
// creating a federated-only account on first login. Federated-only accounts
// carry no password digest at all, so they can never pass local password
// login.
type Provisioner struct {
	store    auth.UserStore
	recorder audit.Recorder
	log      *observability.Logger

	// securityGroupID is the provider group object id whose members get
	// the SecurityTeam role on first login; everyone else starts as
	// Coordinator.
	securityGroupID string

	now func() time.Time
}

// NewProvisioner creates a provisioner over the credential store. A nil
// recorder leaves first-login provisioning out of the audit trail.
func NewProvisioner(store auth.UserStore, securityGroupID string, recorder audit.Recorder, log *observability.Logger) *Provisioner {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Provisioner{
		store:           store,
		recorder:        recorder,
		log:             log.WithField("component", "federated_provisioner"),
		securityGroupID: securityGroupID,
		now:             time.Now,
	}
}

// Resolve returns the local user for the identity, auto-provisioning on
// first login and rotating the refresh token plus stamping last-login on
// subsequent ones. The identity email is lowercased once here so the
// stored row, the returned user, and the minted principal all agree.
func (p *Provisioner) Resolve(ctx context.Context, identity *Identity) (*auth.User, error) {
	identity.Email = strings.ToLower(identity.Email)

	user, err := p.store.GetByEmail(ctx, identity.Email)
	if err == nil {
		return user, p.touch(ctx, user)
	}
	if err != auth.ErrUserNotFound {
		return nil, fmt.Errorf("resolving federated user: %w", err)
	}
	return p.create(ctx, identity)
}

func (p *Provisioner) create(ctx context.Context, identity *Identity) (*auth.User, error) {
	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	user := &auth.User{
		ID:             uuid.New(),
		Email:          identity.Email,
		Name:           identity.Name,
		Role:           p.defaultRole(identity.Groups),
		Federated:      true,
		RefreshToken:   refresh,
		RefreshExpires: now.Add(auth.RefreshTokenTTL),
		CreatedAt:      now,
		LastLogin:      &now,
	}

	if err := p.store.Create(ctx, user); err != nil {
		if err == auth.ErrConflict {
			// Lost a provisioning race for the same email; the winner's
			// record is the one to use.
			return p.store.GetByEmail(ctx, identity.Email)
		}
		return nil, fmt.Errorf("provisioning federated user: %w", err)
	}

	p.log.WithField("user_id", user.ID.String()).
		WithField("role", user.Role.String()).
		Info("provisioned federated user")

	actorID := user.ID
	_ = p.recorder.Record(ctx, &audit.Event{
		Type:       audit.EventTypeProvision,
		Outcome:    audit.OutcomeSuccess,
		ActorID:    &actorID,
		ActorEmail: user.Email,
		Method:     "federated",
		Detail:     "role " + user.Role.String(),
	})
	return user, nil
}

// touch rotates the refresh token and stamps last-login on an existing user.
func (p *Provisioner) touch(ctx context.Context, user *auth.User) error {
	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return err
	}

	now := p.now().UTC()
	user.LastLogin = &now
	user.RefreshToken = refresh
	user.RefreshExpires = now.Add(auth.RefreshTokenTTL)
	return p.store.Update(ctx, user)
}

func (p *Provisioner) defaultRole(groups []string) auth.Role {
	if p.securityGroupID != "" {
		for _, g := range groups {
			if g == p.securityGroupID {
				return auth.RoleSecurityTeam
			}
		}
	}
	return auth.RoleCoordinator
}
