// Package plan loads YAML job plans for the convert command.
//
// A plan can send layers of one source to several destination files,
// which lets independent files convert in parallel:
//
//	source: city.gdb
//	workers: 2
//	jobs:
//	  - layer: Parcels
//	    destination: cadastre.sqlite
//	  - layer: Roads
//	    destination: network.sqlite
//	    table: roads
//	    fast_mode: true
package plan
