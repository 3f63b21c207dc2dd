package source

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamCSV_Header(t *testing.T) {
	input := "row_index,model\n0,a\n1,b\n"
	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, []string{"row_index", "model"}, <-headerCh)
	assert.Equal(t, [][]string{{"0", "a"}, {"1", "b"}}, rows)
}

func TestStreamCSV_VariableFieldsAndTrim(t *testing.T) {
	input := " a , b \nc\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{TrimSpace: true})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, rows)
}

func TestStreamCSV_ParseErrorKeepsEarlierRows(t *testing.T) {
	input := "a,b\n1,2\n3,\"unterminated\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{HasHeader: true})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
	assert.Equal(t, [][]string{{"1", "2"}}, rows)
}

func TestStreamCSV_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a\nb\n"), CSVOptions{})
	for range rowCh {
	}
	assert.Error(t, <-errCh)
}

func TestReadCSV_Empty(t *testing.T) {
	header, rows, err := ReadCSV(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, header)
	assert.Empty(t, rows)
}
