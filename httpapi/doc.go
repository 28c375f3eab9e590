// Package httpapi exposes an otpauth.Engine as a JSON API under /auth.
//
// Sessions travel in an HttpOnly cookie (or an Authorization: Bearer header
// for non-browser clients). Errors render as
//
//	{"statusCode":401,"message":"invalid code","kind":"invalid_code","retryable":true,"success":false}
//
// with the status taken from otpauth.ErrorKind.HTTPStatus.
package httpapi
