// Package registry is the strategy and offer referential of the storage
// distribution engine.
//
// The referential is a YAML document declaring offers (an id and a location
// URI understood by storage.OfferFactory) and strategies (ordered sets of
// offer references). It implements interfaces.StrategyProvider for the
// distribution engine and storage.OfferLocator for the offer connector.
//
// # File format
//
//	offers:
//	  - id: disk-1
//	    uri: file:///var/lib/offers/disk-1
//	  - id: s3-1
//	    uri: s3://archive-bucket/offers?region=eu-west-1
//	  - id: tape-1
//	    uri: badger:///var/lib/offers/tape-1?async=true&staging_delay=10m
//
//	strategies:
//	  - id: default
//	    copy_count: 2
//	    offers:
//	      - id: disk-1
//	        referent: true
//	      - id: s3-1
//	        rank: 1
//	      - id: tape-1
//	        rank: 2
//	        async_read: true
//
// Loading validates every strategy (unique offers, at most one referent,
// copy count within the enabled offers) and checks that each referenced offer
// is declared with a parseable URI.
//
// # Reloading
//
// Reload swaps the whole referential at once. Strategies already resolved by
// in-flight operations keep their previous value.
package registry
