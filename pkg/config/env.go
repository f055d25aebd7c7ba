package config

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "STOREFRONT_APP_ENV"
	EnvPort   = "STOREFRONT_APP_PORT"

	EnvDBDSN  = "STOREFRONT_DB_DSN"
	EnvDBHost = "STOREFRONT_DB_HOST"
	EnvDBUser = "STOREFRONT_DB_USER"
	EnvDBName = "STOREFRONT_DB_NAME"

	EnvRedisURL = "STOREFRONT_REDIS_URL"

	EnvJWTSecret = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer = "STOREFRONT_JWT_ISSUER"

	EnvCheckoutCurrency = "STOREFRONT_CHECKOUT_CURRENCY"
	EnvCheckoutTaxRate  = "STOREFRONT_CHECKOUT_TAX_RATE"
	EnvCheckoutShipping = "STOREFRONT_CHECKOUT_SHIPPING_METHODS"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
