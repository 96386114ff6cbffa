package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medipos/m/internal/ledger"
	"medipos/m/internal/store"
	"medipos/m/internal/store/memory"
)

const catalog = `brand id,brand name,type,slug,dosage form,generic,strength,manufacturer,package container
1,Napa,allopathic,napa,Tablet,Paracetamol,500 mg,Beximco,10 x 10
2,Seclo,allopathic,seclo,Capsule,Omeprazole,20 mg,Square,
3,,allopathic,blank,Tablet,Nothing,1 mg,Nobody,
4,napa,allopathic,napa-dup,Tablet,Paracetamol,500 mg,Beximco,
5,Short,row
`

func TestLoadMedicines(t *testing.T) {
	s := memory.New()
	l := NewLoader(s, ledger.New(s, zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()

	res, err := l.LoadMedicines(ctx, strings.NewReader(catalog))
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 2, Skipped: 3}, res)

	docs, err := s.Find(ctx, store.Medicines, store.Where(store.Eq("name", "Napa")))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Paracetamol", docs[0]["generic_name"])
	assert.Equal(t, "Beximco", docs[0]["manufacturer"])
	assert.EqualValues(t, 0, docs[0]["stock_quantity"])

	// a second load finds everything already present
	res, err = l.LoadMedicines(ctx, strings.NewReader(catalog))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
}

func TestLoadFileMissing(t *testing.T) {
	s := memory.New()
	l := NewLoader(s, ledger.New(s, zerolog.Nop()), zerolog.Nop())
	_, err := l.LoadFile(context.Background(), "does-not-exist.csv")
	assert.Error(t, err)
}
