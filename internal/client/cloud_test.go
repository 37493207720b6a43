package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudListFilaments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/org-1/filament/GetFilament", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"status": true,
			"filament": {
				"101": {"uid": "AB12", "type": {"id": 3}, "total": 335570, "left": 234987},
				"102": {"uid": "CD34", "type": "PLA+", "total": "100000", "left": null}
			}
		}`))
	}))
	defer srv.Close()

	c := NewCloud(srv.URL, "org-1", "tok")
	fils, err := c.ListFilaments(context.Background())
	require.NoError(t, err)
	require.Len(t, fils, 2)

	assert.Equal(t, int64(3), fils["101"].Type.ID)
	assert.Equal(t, 335570.0, fils["101"].Total.Float())

	// Loose typing across the catalog.
	assert.Equal(t, "PLA+", fils["102"].Type.Name)
	assert.Equal(t, 100000.0, fils["102"].Total.Float())
	assert.Equal(t, 0.0, fils["102"].Left.Float())
}

func TestCloudListFilamentsEmptyCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": true}`))
	}))
	defer srv.Close()

	fils, err := NewCloud(srv.URL, "org-1", "tok").ListFilaments(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, fils)
	assert.Empty(t, fils)
}

func TestCloudRejectedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": false, "message": "invalid organization"}`))
	}))
	defer srv.Close()

	_, err := NewCloud(srv.URL, "org-1", "tok").ListFilaments(context.Background())
	require.Error(t, err)

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "cloud", ue.System)
	assert.Contains(t, ue.Message, "invalid organization")
}

func TestCloudAuthErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewCloud(srv.URL, "org-1", "bad").ListFilaments(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestCloudUpdateFilament(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/org-1/filament/Create", r.URL.Path)
		require.Equal(t, "101", r.URL.Query().Get("fid"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, 135285.0, payload["left"])
		assert.Equal(t, "percent", payload["left_length_type"])

		w.Write([]byte(`{"status": true}`))
	}))
	defer srv.Close()

	err := NewCloud(srv.URL, "org-1", "tok").UpdateFilament(context.Background(), "101", CloudFilamentUpdate{
		Left:           135285,
		LeftLengthType: "percent",
	})
	require.NoError(t, err)
}

func TestCloudTestConnection(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/org-1/account/Test", r.URL.Path)
			w.Write([]byte(`{"status": true}`))
		}))
		defer srv.Close()

		assert.NoError(t, NewCloud(srv.URL, "org-1", "tok").TestConnection(context.Background()))
	})

	t.Run("bad credential", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		err := NewCloud(srv.URL, "org-1", "bad").TestConnection(context.Background())
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("rejected envelope", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status": false, "message": "no such org"}`))
		}))
		defer srv.Close()

		err := NewCloud(srv.URL, "org-1", "tok").TestConnection(context.Background())
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("transport failure is not an auth failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		err := NewCloud(srv.URL, "org-1", "tok").TestConnection(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotAuthorized)
	})
}

func TestCloudGetFilamentTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/org-1/filament/type/Get", r.URL.Path)
		w.Write([]byte(`{
			"status": true,
			"types": {
				"3": {"id": 3, "material_type_name": "PLA", "brand": "Polymaker", "price": 2499}
			}
		}`))
	}))
	defer srv.Close()

	types, err := NewCloud(srv.URL, "org-1", "tok").GetFilamentTypes(context.Background())
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "PLA", types["3"].MaterialTypeName)
	assert.Equal(t, 2499.0, types["3"].Price.Float())
}
