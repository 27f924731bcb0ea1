package store

import "fmt"

// GameResultsDDL returns create-if-missing statement for GameResults table in the driver's dialect
func GameResultsDDL(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return `CREATE TABLE IF NOT EXISTS GameResults (
			Id INTEGER PRIMARY KEY AUTOINCREMENT,
			GameName TEXT NOT NULL,
			Attempts INTEGER NOT NULL,
			Won BOOLEAN NOT NULL,
			PlayedAt DATETIME NOT NULL
		)`, nil
	case DriverSQLServer:
		return `IF OBJECT_ID(N'GameResults', N'U') IS NULL
		CREATE TABLE GameResults (
			Id INT IDENTITY(1,1) PRIMARY KEY,
			GameName NVARCHAR(50) NOT NULL,
			Attempts INT NOT NULL,
			Won BIT NOT NULL,
			PlayedAt DATETIME2 NOT NULL
		)`, nil
	default:
		return "", fmt.Errorf("no schema for driver %q", driver)
	}
}
