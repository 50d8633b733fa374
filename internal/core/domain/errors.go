package domain

import "errors"

var (
	// ErrNotFound : document absent du store
	ErrNotFound = errors.New("content not found")

	// ErrUpstreamQuery : le document store a échoué. Fatal pour la requête,
	// un feed partiel serait pire qu'une 500.
	ErrUpstreamQuery = errors.New("upstream query failed")

	// ErrStoreUnavailable : cache/compteur indisponible. Jamais remonté au
	// client, le composant dégradé passe en pass-through.
	ErrStoreUnavailable = errors.New("store unavailable")
)
