package config

const (
	EnvPrefix = "kalamart"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "KALAMART_DB_DSN"
	EnvDBHost = "KALAMART_DB_HOST"
	EnvDBUser = "KALAMART_DB_USER"
	EnvDBName = "KALAMART_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
