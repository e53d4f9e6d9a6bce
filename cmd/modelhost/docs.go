package main

// General API documentation for swaggo. Run `swag init -g cmd/modelhost/docs.go` to regenerate docs/.
//
// @title           modelhost API
// @version         1.0
// @description     HTTP API for local model downloads and inference server control.
//
// @contact.name   modelhost maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
