// internal/services/metadata.go
package services

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/javajoker/tunevault-backend/internal/ledger"
	"github.com/javajoker/tunevault-backend/internal/models"
)

const (
	// placeholderValue stands in for blank field values, which the ledger
	// refuses to store.
	placeholderValue = "-"
	appTag           = "tunevault"
	maxSlugLength    = 48
)

// buildAssetFields renders the immutable on-chain metadata of an asset.
func buildAssetFields(asset *models.Asset) []ledger.Field {
	supply := ""
	if asset.TotalSupply != nil {
		supply = strconv.Itoa(*asset.TotalSupply)
	}

	fields := []ledger.Field{
		{Name: "title", Type: "string", Value: asset.Title},
		{Name: "artist", Type: "string", Value: asset.Artist},
		{Name: "description", Type: "string", Value: asset.Description},
		{Name: "genre", Type: "string", Value: asset.Genre},
		{Name: "price", Type: "string", Value: asset.Price.String()},
		{Name: "audio_url", Type: "string", Value: asset.Audio.URL},
		{Name: "cover_url", Type: "string", Value: asset.Cover.URL},
		{Name: "limited_edition", Type: "string", Value: strconv.FormatBool(asset.LimitedEdition)},
		{Name: "total_supply", Type: "string", Value: supply},
		{Name: "creator", Type: "string", Value: asset.CreatorID.String()},
		{Name: "created_at", Type: "string", Value: asset.CreatedAt.UTC().Format(time.RFC3339)},
		{Name: "app", Type: "string", Value: appTag},
	}

	return withPlaceholders(fields)
}

// withPlaceholders replaces empty or whitespace-only values.
func withPlaceholders(fields []ledger.Field) []ledger.Field {
	out := make([]ledger.Field, len(fields))
	for i, field := range fields {
		if strings.TrimSpace(field.Value) == "" {
			field.Value = placeholderValue
		}
		out[i] = field
	}
	return out
}

// ledgerName derives the ledger-facing asset name: a slug of the title plus
// the unix timestamp.
func ledgerName(title string, at time.Time) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if b.Len() >= maxSlugLength {
			break
		}
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "track"
	}
	return slug + "-" + strconv.FormatInt(at.Unix(), 10)
}
