package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/shopkeeper/internal/client/client"
	"github.com/dmitrijs2005/shopkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/shopkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/cryptox"
	"github.com/dmitrijs2005/shopkeeper/internal/dbx"
	"github.com/dmitrijs2005/shopkeeper/internal/logging"
	"golang.org/x/crypto/bcrypt"
)

// ErrNoOfflineData means no previous online login left credentials behind.
var ErrNoOfflineData = errors.New("no offline login data available, log in online first")

// AuthService opens a session for the shop user.
//
//   - OnlineLogin authenticates against the server and keeps what offline
//     login needs (username, user id, password hash and the token sealed
//     with a password-derived key).
//   - OfflineLogin checks the password against the kept hash.
//   - Login tries online first and falls back to offline when the server
//     cannot be reached.
//   - ClearOfflineData forgets everything (logout).
type AuthService interface {
	OnlineLogin(ctx context.Context, username string, password []byte) (client.Session, error)
	OfflineLogin(ctx context.Context, username string, password []byte) (client.Session, error)
	Login(ctx context.Context, username string, password []byte) (client.Session, bool, error)
	ClearOfflineData(ctx context.Context) error
}

type authService struct {
	auth  client.Authenticator
	db    *sql.DB
	repos repomanager.RepositoryManager
	log   logging.Logger
}

func NewAuthService(auth client.Authenticator, db *sql.DB, repos repomanager.RepositoryManager, log logging.Logger) AuthService {
	if log == nil {
		log = logging.Nop{}
	}
	return &authService{auth: auth, db: db, repos: repos, log: log.With("module", "auth")}
}

// hashCost is a package var so tests can lower it.
var hashCost = bcrypt.DefaultCost

func (a *authService) OnlineLogin(ctx context.Context, username string, password []byte) (client.Session, error) {
	session, err := a.auth.Login(ctx, username, string(password))
	if err != nil {
		return client.Session{}, fmt.Errorf("login error: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword(password, hashCost)
	if err != nil {
		return client.Session{}, fmt.Errorf("password hash error: %w", err)
	}
	salt, err := cryptox.NewSalt()
	if err != nil {
		return client.Session{}, fmt.Errorf("salt error: %w", err)
	}
	sealed, err := cryptox.Seal([]byte(session.Token), cryptox.DeriveKey(password, salt))
	if err != nil {
		return client.Session{}, fmt.Errorf("token sealing error: %w", err)
	}
	if err := a.saveOfflineData(ctx, username, session.UserID, sealed, salt, hash); err != nil {
		return client.Session{}, fmt.Errorf("offline data saving error: %w", err)
	}
	a.log.Info(ctx, "logged in online", "user", username)
	return session, nil
}

// saveOfflineData writes the offline login data in a single transaction.
func (a *authService) saveOfflineData(ctx context.Context, username, userID string, sealedToken, salt, hash []byte) error {
	return dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := a.repos.Metadata(tx)
		for k, v := range map[string][]byte{
			metadata.KeyUsername:     []byte(username),
			metadata.KeyUserID:       []byte(userID),
			metadata.KeyAccessToken:  sealedToken,
			metadata.KeyTokenSalt:    salt,
			metadata.KeyPasswordHash: hash,
		} {
			if err := repo.Set(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *authService) OfflineLogin(ctx context.Context, username string, password []byte) (client.Session, error) {
	repo := a.repos.Metadata(a.db)

	savedUsername, err := repo.Get(ctx, metadata.KeyUsername)
	if err != nil {
		return client.Session{}, err
	}
	hash, err := repo.Get(ctx, metadata.KeyPasswordHash)
	if err != nil {
		return client.Session{}, err
	}
	if savedUsername == nil || hash == nil {
		return client.Session{}, ErrNoOfflineData
	}
	if string(savedUsername) != username {
		return client.Session{}, common.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(hash, password); err != nil {
		return client.Session{}, common.ErrUnauthorized
	}

	userID, err := repo.Get(ctx, metadata.KeyUserID)
	if err != nil {
		return client.Session{}, err
	}
	sealed, err := repo.Get(ctx, metadata.KeyAccessToken)
	if err != nil {
		return client.Session{}, err
	}
	salt, err := repo.Get(ctx, metadata.KeyTokenSalt)
	if err != nil {
		return client.Session{}, err
	}
	token, err := cryptox.Open(sealed, cryptox.DeriveKey(password, salt))
	if err != nil {
		return client.Session{}, fmt.Errorf("%w: cached token unreadable: %v", common.ErrStorage, err)
	}

	a.auth.Remember(username, string(password))
	a.log.Info(ctx, "logged in offline", "user", username)
	return client.Session{UserID: string(userID), Token: string(token)}, nil
}

// Login reports whether the session was opened online.
func (a *authService) Login(ctx context.Context, username string, password []byte) (client.Session, bool, error) {
	s, err := a.OnlineLogin(ctx, username, password)
	if err == nil {
		return s, true, nil
	}
	if !common.IsTransient(err) {
		return client.Session{}, false, err
	}
	a.log.Warn(ctx, "server unreachable, trying offline login", "error", err)
	s, err = a.OfflineLogin(ctx, username, password)
	return s, false, err
}

func (a *authService) ClearOfflineData(ctx context.Context) error {
	return a.repos.Metadata(a.db).Clear(ctx)
}
