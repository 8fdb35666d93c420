// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"github.com/spf13/viper"
)

func PostgresURI() string {
	return viper.GetString("URI")
}
