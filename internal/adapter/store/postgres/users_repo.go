package postgres

import (
	"fmt"
	"time"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

// userDat is the persisted attribute shape of a user item.
type userDat struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"pic,omitempty"`
	OAuthID string `json:"oauth_id,omitempty"`
	PlanID  string `json:"plan_id"`
	Active  bool   `json:"active"`
	Staff   bool   `json:"staff"`
}

// UserRepo implements domain.UserRepository. Email lookup rides GSI1 and
// OAuth-identity lookup rides the hash-only GSI2.
type UserRepo struct {
	table *Table
}

func NewUserRepo(t *Table) *UserRepo { return &UserRepo{table: t} }

func (r *UserRepo) Create(ctx domain.Context, u domain.User) error {
	it, err := userItem(u)
	if err != nil {
		return err
	}
	if err := r.table.Put(ctx, it, domain.CondNotExists()); err != nil {
		return fmt.Errorf("op=users.create: %w", err)
	}
	return nil
}

func (r *UserRepo) Get(ctx domain.Context, id string) (domain.User, error) {
	it, err := r.table.Get(ctx, userPK(id), skMeta)
	if err != nil {
		return domain.User{}, fmt.Errorf("op=users.get: %w", err)
	}
	return userFromItem(it)
}

func (r *UserRepo) GetByEmail(ctx domain.Context, email string) (domain.User, error) {
	items, _, err := r.table.QueryGSI(ctx, 1, emailGSI1(email), false, 1, "")
	if err != nil {
		return domain.User{}, fmt.Errorf("op=users.get_by_email: %w", err)
	}
	if len(items) == 0 {
		return domain.User{}, fmt.Errorf("op=users.get_by_email: %w", domain.ErrNotFound)
	}
	return userFromItem(items[0])
}

func (r *UserRepo) GetByOAuthID(ctx domain.Context, oauthID string) (domain.User, error) {
	it, err := r.table.GetByGSI2(ctx, oauthGSI2(oauthID))
	if err != nil {
		return domain.User{}, fmt.Errorf("op=users.get_by_oauth: %w", err)
	}
	return userFromItem(it)
}

func (r *UserRepo) Update(ctx domain.Context, u domain.User) error {
	it, err := userItem(u)
	if err != nil {
		return err
	}
	it.Upd = time.Now().Unix()
	if err := r.table.Put(ctx, it, domain.CondExists()); err != nil {
		return fmt.Errorf("op=users.update: %w", err)
	}
	return nil
}

func userItem(u domain.User) (Item, error) {
	dat, err := encodeDat(userDat{
		Email:   u.Email,
		Name:    u.Name,
		Picture: u.Picture,
		OAuthID: u.OAuthID,
		PlanID:  u.PlanID,
		Active:  u.Active,
		Staff:   u.Staff,
	})
	if err != nil {
		return Item{}, err
	}
	now := time.Now()
	crt := u.CreatedAt
	if crt.IsZero() {
		crt = now
	}
	g1pk := emailGSI1(u.Email)
	g1sk := skMeta
	it := Item{
		PK:     userPK(u.ID),
		SK:     skMeta,
		Tp:     tpUser,
		Dat:    dat,
		Crt:    crt.Unix(),
		Upd:    now.Unix(),
		GSI1PK: &g1pk,
		GSI1SK: &g1sk,
	}
	if u.OAuthID != "" {
		g2 := oauthGSI2(u.OAuthID)
		it.GSI2PK = &g2
	}
	return it, nil
}

func userFromItem(it Item) (domain.User, error) {
	var d userDat
	if err := decodeDat(it.Dat, &d); err != nil {
		return domain.User{}, err
	}
	id := it.PK[len("USR#"):]
	return domain.User{
		ID:        id,
		Email:     d.Email,
		Name:      d.Name,
		Picture:   d.Picture,
		OAuthID:   d.OAuthID,
		PlanID:    d.PlanID,
		Active:    d.Active,
		Staff:     d.Staff,
		CreatedAt: time.Unix(it.Crt, 0).UTC(),
		UpdatedAt: time.Unix(it.Upd, 0).UTC(),
	}, nil
}
