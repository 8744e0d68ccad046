// Package confloader loads SessionGuard configuration.
//
// Sources are layered with koanf, later ones overriding earlier ones:
//
//  1. the defaults already present in the target struct
//  2. a YAML file
//  3. SESSIONGUARD_* environment variables
//  4. explicit overrides (command line flags)
//
// Watcher reports changes to the configuration file so long-running
// commands can reload settings such as the log level.
package confloader
