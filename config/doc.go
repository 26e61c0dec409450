// Package config loads the settings of an LTPA token service.
//
// Settings come from one YAML file named explicitly by the caller (via
// [LoadFile]). There is no search path and no environment override. The
// file points at a keys bundle in the Java properties format exported by
// the partner identity system (via [LoadKeysFile]); [Config.KeyMaterial]
// combines the two into ready-to-use [token.KeyMaterial].
//
// The key password is taken, in order, from the YAML key_password, from the
// Shamir shares in key_password_shares, and finally from the bundle itself.
//
// Key exports:
//
//   - [Config] -- service settings
//   - [Default] -- a Config with the documented defaults
//   - [LoadFile] -- reads and validates one YAML file
//   - [KeysFile], [LoadKeysFile], [WriteKeysFile] -- the properties bundle
//   - [SetValue] -- rewrites one top-level key of a YAML file
package config
