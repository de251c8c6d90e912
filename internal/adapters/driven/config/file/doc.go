// Package file provides file-based implementations of driven port interfaces.
//
// Adapters:
//   - ConfigStore: TOML-based configuration storage
//   - LoadSettings: typed settings on top of any ConfigStore
package file
