package assembly

import (
	"sync"

	"go.uber.org/zap"

	"github.com/notargets/gospectral/basis"
	"github.com/notargets/gospectral/utils"
)

// Cache memoizes assembled matrices by Key. Matrices handed out are shared
// and must be treated as read only.
type Cache struct {
	mu   sync.Mutex
	mats map[Key]*SparseMatrix
}

func NewCache() *Cache {
	return &Cache{mats: make(map[Key]*SparseMatrix)}
}

func (c *Cache) Assemble(op Operator, test, trial *basis.Basis) (A *SparseMatrix, err error) {
	if err = checkPair(op, test, trial); err != nil {
		return
	}
	key := NewKey(op, test, trial)
	c.mu.Lock()
	defer c.mu.Unlock()
	var ok bool
	if A, ok = c.mats[key]; ok {
		return
	}
	if A, err = Assemble(op, test, trial); err != nil {
		return
	}
	utils.Logger().Debug("assembled", zap.Stringer("key", key), zap.Int("nnz", A.NNZ()))
	c.mats[key] = A
	return
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mats)
}

// Reset drops every cached matrix.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mats = make(map[Key]*SparseMatrix)
}
