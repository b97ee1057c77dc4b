package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"github.com/iryastone/storefront/internal/domain"
	pfirestore "github.com/iryastone/storefront/internal/platform/firestore"
	"github.com/iryastone/storefront/internal/repositories"
)

const cartCollection = "carts"

// CartLineRepository stores one Firestore document per authenticated cart line.
type CartLineRepository struct {
	provider *pfirestore.Provider
	lines    *pfirestore.Collection[cartLineDocument]
	txOpts   []pfirestore.TxOption
	now      func() time.Time
}

type cartLineDocument struct {
	UserID    string                   `firestore:"userId"`
	ProductID string                   `firestore:"productId"`
	Quantity  int                      `firestore:"quantity"`
	Product   *productSnapshotDocument `firestore:"product,omitempty"`
	AddedAt   time.Time                `firestore:"addedAt,serverTimestamp"`
	UpdatedAt time.Time                `firestore:"updatedAt,serverTimestamp"`
}

type productSnapshotDocument struct {
	ProductID      string `firestore:"productId"`
	Name           string `firestore:"name"`
	Category       string `firestore:"category,omitempty"`
	UnitPricePence int64  `firestore:"unitPricePence"`
	ImageURL       string `firestore:"imageUrl,omitempty"`
}

var _ repositories.CartLineRepository = (*CartLineRepository)(nil)

// NewCartLineRepository constructs a Firestore-backed cart line repository. txOpts apply to
// the quantity update transaction.
func NewCartLineRepository(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) (*CartLineRepository, error) {
	if provider == nil {
		return nil, errors.New("cart line repository requires firestore provider")
	}
	return &CartLineRepository{
		provider: provider,
		lines:    pfirestore.NewCollection[cartLineDocument](provider, cartCollection, nil, nil),
		txOpts:   txOpts,
		now:      time.Now,
	}, nil
}

// FindByProduct returns the user's line for productID.
func (r *CartLineRepository) FindByProduct(ctx context.Context, userID, productID string) (domain.CartLine, bool, error) {
	doc, found, err := r.lines.First(ctx, pfirestore.Where(
		pfirestore.Equal("userId", userID),
		pfirestore.Equal("productId", productID),
	))
	if err != nil || !found {
		return domain.CartLine{}, false, err
	}
	return decodeCartLine(doc), true, nil
}

// Get loads a line the user owns.
func (r *CartLineRepository) Get(ctx context.Context, userID, lineID string) (domain.CartLine, error) {
	doc, err := r.lines.Get(ctx, lineID)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.CartLine{}, pfirestore.NotFound("carts.get", lineID)
		}
		return domain.CartLine{}, err
	}
	if doc.Data.UserID != userID {
		return domain.CartLine{}, pfirestore.NotFound("carts.get", lineID)
	}
	return decodeCartLine(doc), nil
}

// Insert adds a new line document. addedAt and updatedAt are assigned by the server.
func (r *CartLineRepository) Insert(ctx context.Context, userID string, line domain.CartLine) (domain.CartLine, error) {
	doc := cartLineDocument{
		UserID:    userID,
		ProductID: strings.TrimSpace(line.ProductID),
		Quantity:  line.Quantity,
		Product:   encodeSnapshot(line.Product),
	}
	id, err := r.lines.Create(ctx, doc)
	if err != nil {
		return domain.CartLine{}, err
	}
	now := r.now().UTC()
	line.ID = id
	line.ProductID = doc.ProductID
	line.AddedAt = now
	line.UpdatedAt = now
	return line, nil
}

// UpdateQuantity overwrites the quantity after confirming ownership inside a transaction.
func (r *CartLineRepository) UpdateQuantity(ctx context.Context, userID, lineID string, quantity int) error {
	ref, err := r.lines.DocumentRef(ctx, lineID)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			wrapped := pfirestore.WrapError("carts.update", err)
			if pfirestore.IsNotFound(wrapped) {
				return pfirestore.NotFound("carts.update", lineID)
			}
			return wrapped
		}
		doc, err := r.lines.Decode(ctx, snap)
		if err != nil {
			return err
		}
		if doc.Data.UserID != userID {
			return pfirestore.NotFound("carts.update", lineID)
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "quantity", Value: quantity},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	}, r.txOpts...)
}

// List returns the user's lines, oldest first.
func (r *CartLineRepository) List(ctx context.Context, userID string) ([]domain.CartLine, error) {
	docs, err := r.lines.Query(ctx, pfirestore.Where(pfirestore.Equal("userId", userID)))
	if err != nil {
		return nil, err
	}
	lines := make([]domain.CartLine, 0, len(docs))
	for _, doc := range docs {
		lines = append(lines, decodeCartLine(doc))
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].AddedAt.Equal(lines[j].AddedAt) {
			return lines[i].ID < lines[j].ID
		}
		return lines[i].AddedAt.Before(lines[j].AddedAt)
	})
	return lines, nil
}

// Delete removes the line when the user owns it. Absent lines and lines owned by others are left untouched.
func (r *CartLineRepository) Delete(ctx context.Context, userID, lineID string) error {
	if _, err := r.Get(ctx, userID, lineID); err != nil {
		if pfirestore.IsNotFound(err) {
			return nil
		}
		return err
	}
	return r.lines.Delete(ctx, lineID)
}

// DeleteAll removes every line the user owns with a single bulk write.
func (r *CartLineRepository) DeleteAll(ctx context.Context, userID string) (int, error) {
	docs, err := r.lines.Query(ctx, pfirestore.Where(pfirestore.Equal("userId", userID)))
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	if err := r.lines.DeleteAll(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func decodeCartLine(doc pfirestore.Document[cartLineDocument]) domain.CartLine {
	line := domain.CartLine{
		ID:        doc.ID,
		ProductID: doc.Data.ProductID,
		Quantity:  doc.Data.Quantity,
		Product:   decodeSnapshot(doc.Data.Product),
		AddedAt:   doc.Data.AddedAt.UTC(),
		UpdatedAt: doc.Data.UpdatedAt.UTC(),
	}
	if line.AddedAt.IsZero() {
		line.AddedAt = doc.CreateTime.UTC()
	}
	if line.UpdatedAt.IsZero() {
		line.UpdatedAt = doc.UpdateTime.UTC()
	}
	return line
}

func encodeSnapshot(snapshot *domain.ProductSnapshot) *productSnapshotDocument {
	if snapshot == nil {
		return nil
	}
	return &productSnapshotDocument{
		ProductID:      snapshot.ProductID,
		Name:           snapshot.Name,
		Category:       snapshot.Category,
		UnitPricePence: toPence(snapshot.UnitPrice),
		ImageURL:       snapshot.ImageURL,
	}
}

func decodeSnapshot(doc *productSnapshotDocument) *domain.ProductSnapshot {
	if doc == nil {
		return nil
	}
	return &domain.ProductSnapshot{
		ProductID: doc.ProductID,
		Name:      doc.Name,
		Category:  doc.Category,
		UnitPrice: fromPence(doc.UnitPricePence),
		ImageURL:  doc.ImageURL,
	}
}

var hundred = decimal.NewFromInt(100)

func toPence(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func fromPence(pence int64) decimal.Decimal {
	return decimal.New(pence, -2)
}
