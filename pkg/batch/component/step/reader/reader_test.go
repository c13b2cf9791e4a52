package reader_test

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/parabatch/pkg/batch/component/resource"
	"github.com/tigerroll/parabatch/pkg/batch/component/step/reader"
	"github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
)

type record struct {
	Account string
	Cents   int64
}

func parseCents(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f*100 + 0.5), nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func readAll[T any](t *testing.T, r port.ItemReader[T]) ([]T, []error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.Open(ctx))
	defer r.Close(ctx)

	var items []T
	var errs []error
	for i := 0; i < 100; i++ {
		item, err := r.Read(ctx)
		if err == port.ErrNoMoreItems {
			return items, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}
	t.Fatal("reader did not terminate")
	return nil, nil
}

func TestFlatFileReader_ReadsNamedFields(t *testing.T) {
	path := writeFile(t, "tx.csv", "account,amount\nA,10.00\nB,20.50\n")
	r, err := reader.NewFlatFileReader("flat", reader.FlatFileConfig{
		Resource:    path,
		Names:       []string{"account", "amount"},
		LinesToSkip: 1,
	}, resource.NewOpener(), func(f reader.FieldSet) (record, error) {
		cents, err := parseCents(f["amount"])
		return record{Account: f["account"], Cents: cents}, err
	})
	require.NoError(t, err)

	items, errs := readAll[record](t, r)
	assert.Empty(t, errs)
	assert.Equal(t, []record{{"A", 1000}, {"B", 2050}}, items)
}

func TestFlatFileReader_MalformedLinesAreSkippable(t *testing.T) {
	path := writeFile(t, "tx.csv", "A;10.00\nB\nC;abc\nD;4.00\n")
	r, err := reader.NewFlatFileReader("flat", reader.FlatFileConfig{
		Resource:  path,
		Delimiter: ";",
		Names:     []string{"account", "amount"},
	}, resource.NewOpener(), func(f reader.FieldSet) (record, error) {
		cents, err := parseCents(f["amount"])
		return record{Account: f["account"], Cents: cents}, err
	})
	require.NoError(t, err)

	items, errs := readAll[record](t, r)
	assert.Equal(t, []record{{"A", 1000}, {"D", 400}}, items)
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.True(t, exception.IsKind(e, exception.KindSourceRead))
		assert.True(t, exception.IsSkippable(e))
	}
	assert.Contains(t, errs[0].Error(), "line 2")
	assert.Contains(t, errs[1].Error(), "line 3")
}

func TestFlatFileReader_MissingResource(t *testing.T) {
	r, err := reader.NewFlatFileReader("flat", reader.FlatFileConfig{
		Resource: filepath.Join(t.TempDir(), "nope.csv"),
		Names:    []string{"account"},
	}, resource.NewOpener(), func(f reader.FieldSet) (string, error) { return f["account"], nil })
	require.NoError(t, err)

	err = r.Open(context.Background())
	assert.True(t, exception.IsKind(err, exception.KindResourceAcquisition))
	assert.NoError(t, r.Close(context.Background()))
}

func TestFlatFileReader_RejectsBadConfig(t *testing.T) {
	_, err := reader.NewFlatFileReader[string]("flat", reader.FlatFileConfig{}, resource.NewOpener(), nil)
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

type txBinding struct {
	XMLName xml.Name `xml:"transaction"`
	Account string   `xml:"account"`
	Amount  string   `xml:"amount"`
}

func TestXMLFragmentReader_BindsFragments(t *testing.T) {
	doc := `<?xml version="1.0"?>
<transactions>
  <header><count>3</count></header>
  <transaction><account>A</account><amount>10.00</amount></transaction>
  <transaction><account>B</account><amount>oops</amount></transaction>
  <transaction><account>C</account><amount>30.00</amount></transaction>
</transactions>`
	path := writeFile(t, "tx.xml", doc)

	r, err := reader.NewXMLFragmentReader("xml", reader.XMLFragmentConfig{Resource: path, FragmentRoot: "transaction"},
		resource.NewOpener(), func(b txBinding) (record, error) {
			cents, err := parseCents(b.Amount)
			return record{Account: b.Account, Cents: cents}, err
		})
	require.NoError(t, err)

	items, errs := readAll[record](t, r)
	assert.Equal(t, []record{{"A", 1000}, {"C", 3000}}, items)
	require.Len(t, errs, 1)
	assert.True(t, exception.IsSkippable(errs[0]))
	assert.Contains(t, errs[0].Error(), "fragment 2")
}

func TestXMLFragmentReader_BrokenDocumentIsFatal(t *testing.T) {
	path := writeFile(t, "tx.xml", `<transactions><transaction><account>A</account></transactions>`)
	r, err := reader.NewXMLFragmentReader("xml", reader.XMLFragmentConfig{Resource: path, FragmentRoot: "transaction"},
		resource.NewOpener(), func(b txBinding) (string, error) { return b.Account, nil })
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Open(ctx))
	defer r.Close(ctx)
	_, err = r.Read(ctx)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindSourceRead))
	assert.False(t, exception.IsSkippable(err))
}

func TestSliceReader(t *testing.T) {
	items, errs := readAll[int](t, reader.NewSliceReader(1, 2, 3))
	assert.Empty(t, errs)
	assert.Equal(t, []int{1, 2, 3}, items)
}
