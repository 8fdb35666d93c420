// SPDX-License-Identifier: Apache-2.0

package connstr

import (
	"net/url"
	"strings"
)

// WithReplicationParam takes a Postgres connection string in either URI or
// key/value form and produces the same connection string with
// `replication=database` set, as required to open a logical replication
// connection. Strings that already carry a replication parameter are
// returned unchanged.
func WithReplicationParam(connStr string) string {
	connStr = strings.TrimSpace(connStr)
	if strings.Contains(connStr, "replication=") {
		return connStr
	}

	if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
		u, err := url.Parse(connStr)
		if err != nil {
			// not parseable as a URL; append the parameter verbatim
			if strings.Contains(connStr, "?") {
				return connStr + "&replication=database"
			}
			return connStr + "?replication=database"
		}

		q := u.Query()
		q.Set("replication", "database")
		u.RawQuery = q.Encode()
		return u.String()
	}

	if connStr == "" {
		return "replication=database"
	}
	return connStr + " replication=database"
}
