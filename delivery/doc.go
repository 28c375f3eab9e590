// Package delivery provides otpauth.CodeSender implementations.
//
//   - [SMTPSender] mails the code directly.
//   - [KafkaSender] publishes an otp.issued event for a notification service.
//   - [LogSender] writes the code to a logger, for local development only.
//
// Every sender returns an error when the code could not be handed off; the
// engine reports it as DeliveryFailed and keeps the OTP valid.
package delivery
