// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} and ${VAR:-fallback} environment variable
// interpolation. A reference to an unset variable without a fallback fails the load.
//
//	admin:
//	  username: admin
//	  password: ${LEDGER_ADMIN_PASSWORD}
package config
