// Package all registers every storage backend with the storage factory.
package all

import (
	_ "airhealth/internal/storage/mssql"
	_ "airhealth/internal/storage/postgres"
	_ "airhealth/internal/storage/sqlite"
)
