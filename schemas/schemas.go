// Package schemas embeds the on-disk index mapping bodies SearchClient
// creates new physical indices from (§4.4, case 3).
package schemas

import _ "embed"

//go:embed scores.json
var scoresMapping []byte

// Scores returns the score index mapping body: settings (shards,
// replicas) plus the properties/meta block FindOrCreateIndex sends
// verbatim to CreateIndex.Body when no matching index exists.
func Scores() ([]byte, error) {
	return scoresMapping, nil
}
