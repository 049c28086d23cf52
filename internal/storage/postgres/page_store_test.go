package postgres

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fetchcore/internal/crawler"
)

func strPtr(s string) *string { return &s }

func TestWriteInsertsSuccessRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "pages")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	page := crawler.Page{
		FetchID:      "0190b5a6-0000-7000-8000-000000000001",
		URL:          "http://example.com/b",
		StatusCode:   http.StatusOK,
		Body:         []byte("hello"),
		Headers:      http.Header{"Content-Type": {"text/html"}},
		Referer:      "http://example.com/",
		Depth:        2,
		ResponseTime: 15 * time.Millisecond,
		FetchedAt:    at,
	}

	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
			strPtr(page.FetchID),
			page.URL,
			http.StatusOK,
			(*string)(nil),
			strPtr(page.Referer),
			2,
			int64(15),
			[]byte(`{"Content-Type":["text/html"]}`),
			strPtr("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"),
			(*string)(nil),
			&at,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Write(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteInsertsErrorRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "")
	require.NoError(t, err)

	page := crawler.Page{FetchID: "f", URL: "http://down.test/", Err: errors.New("retries exhausted")}
	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
			strPtr("f"),
			page.URL,
			0,
			(*string)(nil),
			(*string)(nil),
			0,
			int64(0),
			[]byte(`{}`),
			(*string)(nil),
			strPtr("retries exhausted"),
			(*time.Time)(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Write(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "pages")
	require.NoError(t, err)

	failure := errors.New("connection lost")
	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(failure)

	err = store.Write(context.Background(), crawler.Page{URL: "http://a.test/"})
	assert.ErrorIs(t, err, failure)
	assert.Contains(t, err.Error(), "http://a.test/")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStoreWithPool(mock, "crawl_pages")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_pages").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPageStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPageStoreWithPool(nil, "pages")
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewPageStoreWithPool(mock, "pages; DROP TABLE x")
	assert.Error(t, err)

	_, err = NewPageStore(context.Background(), Config{})
	assert.Error(t, err)
}
