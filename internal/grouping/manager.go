package grouping

import (
	"context"
	"slices"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/ariefcatur/go-pickup-slots/internal/apperr"
	"github.com/ariefcatur/go-pickup-slots/internal/catalog"
	"go.uber.org/zap"
)

const MaxNameLength = 10

// Boundary is the catalog administration side of the external system.
type Boundary interface {
	FetchCategories(ctx context.Context) ([]catalog.Category, error)
	CreateCategory(ctx context.Context, name string, orderIndex int) (catalog.Category, error)
	RenameCategory(ctx context.Context, id, name string) error
	DeleteCategory(ctx context.Context, id string) error
	ReorderCategories(ctx context.Context, idsInOrder []string) error
	FetchCategoryMembership(ctx context.Context, categoryID string) ([]string, error)
	ReplaceCategoryMembership(ctx context.Context, categoryID string, productIDs []string) error
	SetRecommended(ctx context.Context, productID string, recommended bool) error
	// FetchRecommended lists every recommended product, whatever its sell date.
	FetchRecommended(ctx context.Context) ([]string, error)
	// MissingProducts returns the ids in productIDs that name no product.
	MissingProducts(ctx context.Context, productIDs []string) ([]string, error)
}

// Change is the membership delta produced by a replacement.
type Change struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

func (c Change) Empty() bool { return len(c.Added) == 0 && len(c.Removed) == 0 }

// Manager owns the ordered category list and cached memberships. Local state
// only changes after the boundary accepted the mutation.
type Manager struct {
	boundary Boundary
	log      *zap.Logger

	mu         sync.Mutex
	categories []catalog.Category
	members    map[string]map[string]bool
}

func NewManager(b Boundary, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{boundary: b, log: log, members: map[string]map[string]bool{}}
}

// Refresh replaces the category list wholesale and drops cached memberships.
func (m *Manager) Refresh(ctx context.Context) error {
	list, err := m.boundary.FetchCategories(ctx)
	if err != nil {
		return apperr.Boundary("fetch categories", err)
	}
	list = slices.Clone(list)
	slices.SortStableFunc(list, func(a, b catalog.Category) int {
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex - b.OrderIndex
		}
		return strings.Compare(a.ID, b.ID)
	})

	m.mu.Lock()
	m.categories = list
	m.members = map[string]map[string]bool{}
	m.mu.Unlock()
	return nil
}

func (m *Manager) Categories() []catalog.Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.categories)
}

// Groupings lists the recommended pseudo-category first, then categories in order.
func (m *Manager) Groupings() []catalog.Grouping {
	cats := m.Categories()
	out := make([]catalog.Grouping, 0, len(cats)+1)
	out = append(out, catalog.Recommended{})
	for _, c := range cats {
		out = append(out, c)
	}
	return out
}

// Lookup resolves an id, including RecommendedID.
func (m *Manager) Lookup(id string) (catalog.Grouping, error) {
	if id == catalog.RecommendedID {
		return catalog.Recommended{}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(id); i >= 0 {
		return m.categories[i], nil
	}
	return nil, apperr.ErrNotFound
}

// ValidateName checks length, whitespace and case-sensitive uniqueness.
// exceptID skips the category being renamed.
func ValidateName(name string, existing []catalog.Category, exceptID string) error {
	if name == "" {
		return apperr.Invalid("name", "must not be empty")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return apperr.Invalid("name", "must be at most 10 characters")
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return apperr.Invalid("name", "must not contain whitespace")
	}
	for _, c := range existing {
		if c.ID != exceptID && c.Name == name {
			return apperr.Invalid("name", "already exists")
		}
	}
	return nil
}

func (m *Manager) Create(ctx context.Context, name string) (catalog.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ValidateName(name, m.categories, ""); err != nil {
		return catalog.Category{}, err
	}
	c, err := m.boundary.CreateCategory(ctx, name, len(m.categories))
	if err != nil {
		return catalog.Category{}, apperr.Boundary("create category", err)
	}
	c.OrderIndex = len(m.categories)
	m.categories = append(m.categories, c)
	m.members[c.ID] = map[string]bool{}
	m.log.Info("category created", zap.String("category_id", c.ID), zap.String("name", c.Name))
	return c, nil
}

func (m *Manager) Rename(ctx context.Context, id, name string) (catalog.Category, error) {
	if id == catalog.RecommendedID {
		return catalog.Category{}, apperr.ErrReserved
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return catalog.Category{}, apperr.ErrNotFound
	}
	if err := ValidateName(name, m.categories, id); err != nil {
		return catalog.Category{}, err
	}
	if err := m.boundary.RenameCategory(ctx, id, name); err != nil {
		return catalog.Category{}, apperr.Boundary("rename category", err)
	}
	m.categories[i].Name = name
	return m.categories[i], nil
}

// Delete removes the category and its membership rows; products are untouched.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if id == catalog.RecommendedID {
		return apperr.ErrReserved
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return apperr.ErrNotFound
	}
	if err := m.boundary.DeleteCategory(ctx, id); err != nil {
		return apperr.Boundary("delete category", err)
	}
	m.categories = slices.Delete(m.categories, i, i+1)
	m.resequence()
	delete(m.members, id)
	m.log.Info("category deleted", zap.String("category_id", id))
	return nil
}

// Reorder takes every category id exactly once, in the new order.
func (m *Manager) Reorder(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reorderLocked(ctx, ids)
}

// Move places a category at position to and reorders the full list.
func (m *Manager) Move(ctx context.Context, id string, to int) error {
	if id == catalog.RecommendedID {
		return apperr.ErrReserved
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.indexOf(id)
	if from < 0 {
		return apperr.ErrNotFound
	}
	if to < 0 || to >= len(m.categories) {
		return apperr.Invalid("index", "out of range")
	}
	ids := make([]string, 0, len(m.categories))
	for _, c := range m.categories {
		if c.ID != id {
			ids = append(ids, c.ID)
		}
	}
	ids = slices.Insert(ids, to, id)
	return m.reorderLocked(ctx, ids)
}

func (m *Manager) reorderLocked(ctx context.Context, ids []string) error {
	if len(ids) != len(m.categories) {
		return apperr.Invalid("ids", "must list every category exactly once")
	}
	byID := make(map[string]catalog.Category, len(m.categories))
	for _, c := range m.categories {
		byID[c.ID] = c
	}
	next := make([]catalog.Category, 0, len(ids))
	for _, id := range ids {
		if id == catalog.RecommendedID {
			return apperr.ErrReserved
		}
		c, ok := byID[id]
		if !ok {
			return apperr.Invalid("ids", "must list every category exactly once")
		}
		delete(byID, id)
		next = append(next, c)
	}
	if err := m.boundary.ReorderCategories(ctx, ids); err != nil {
		return apperr.Boundary("reorder categories", err)
	}
	m.categories = next
	m.resequence()
	return nil
}

// Members returns the product ids of g. The recommended set covers every
// product with the flag, not only those inside the horizon.
func (m *Manager) Members(ctx context.Context, g catalog.Grouping) (map[string]bool, error) {
	id := g.GroupingID()
	m.mu.Lock()
	cached, ok := m.members[id]
	m.mu.Unlock()
	if ok {
		return cloneSet(cached), nil
	}

	set, err := m.load(ctx, g)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.members[id] = set
	m.mu.Unlock()
	return cloneSet(set), nil
}

func (m *Manager) load(ctx context.Context, g catalog.Grouping) (map[string]bool, error) {
	if _, ok := g.(catalog.Recommended); ok {
		list, err := m.boundary.FetchRecommended(ctx)
		if err != nil {
			return nil, apperr.Boundary("fetch recommended products", err)
		}
		return toSet(list), nil
	}
	list, err := m.boundary.FetchCategoryMembership(ctx, g.GroupingID())
	if err != nil {
		return nil, apperr.Boundary("fetch category membership", err)
	}
	return toSet(list), nil
}

// ReplaceMembers sets the complete membership of g and returns the delta
// against the previous membership. For the recommended pseudo-category only
// products whose flag actually flips are sent. On a boundary failure the
// cached membership is left as it was; a recommended change that failed
// part way is reloaded on the next read.
func (m *Manager) ReplaceMembers(ctx context.Context, g catalog.Grouping, productIDs []string) (Change, error) {
	next := toSet(productIDs)
	id := g.GroupingID()
	_, recommended := g.(catalog.Recommended)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !recommended && m.indexOf(id) < 0 {
		return Change{}, apperr.ErrNotFound
	}
	prev, ok := m.members[id]
	if !ok {
		var err error
		if prev, err = m.load(ctx, g); err != nil {
			return Change{}, err
		}
	}
	change := diff(prev, next)

	if recommended {
		if err := m.checkProducts(ctx, change.Added); err != nil {
			return Change{}, err
		}
		if err := m.applyRecommended(ctx, change); err != nil {
			delete(m.members, id)
			return Change{}, err
		}
	} else if err := m.boundary.ReplaceCategoryMembership(ctx, id, sortedKeys(next)); err != nil {
		return Change{}, apperr.Boundary("replace category membership", err)
	}
	m.members[id] = next
	return change, nil
}

func (m *Manager) checkProducts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	missing, err := m.boundary.MissingProducts(ctx, ids)
	if err != nil {
		return apperr.Boundary("check products", err)
	}
	if len(missing) > 0 {
		return apperr.Invalid("product_ids", "unknown product "+missing[0])
	}
	return nil
}

func (m *Manager) applyRecommended(ctx context.Context, change Change) error {
	for _, id := range change.Added {
		if err := m.boundary.SetRecommended(ctx, id, true); err != nil {
			m.log.Warn("set recommended failed", zap.String("product_id", id), zap.Error(err))
			return apperr.Boundary("set recommended", err)
		}
	}
	for _, id := range change.Removed {
		if err := m.boundary.SetRecommended(ctx, id, false); err != nil {
			m.log.Warn("unset recommended failed", zap.String("product_id", id), zap.Error(err))
			return apperr.Boundary("set recommended", err)
		}
	}
	return nil
}

func (m *Manager) indexOf(id string) int {
	return slices.IndexFunc(m.categories, func(c catalog.Category) bool { return c.ID == id })
}

func (m *Manager) resequence() {
	for i := range m.categories {
		m.categories[i].OrderIndex = i
	}
}

func diff(prev, next map[string]bool) Change {
	var c Change
	for id := range next {
		if !prev[id] {
			c.Added = append(c.Added, id)
		}
	}
	for id := range prev {
		if !next[id] {
			c.Removed = append(c.Removed, id)
		}
	}
	slices.Sort(c.Added)
	slices.Sort(c.Removed)
	return c
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func cloneSet(s map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

func sortedKeys(s map[string]bool) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
