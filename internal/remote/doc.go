// Package remote is the HTTP/JSON client of the FarmSync remote API.
//
// Client implements the service.RemoteAuthAPI, service.RemoteDataAPI and
// service.ConnectivityProbe interfaces. Every failure is reported as a
// domain transport error:
//
//	network error, timeout, 429, 5xx  -> domain.ErrTransportUnavailable
//	401, 403                          -> domain.ErrRemoteRejected
//	404                               -> domain.ErrRemoteNotFound
//	undecodable or incomplete body    -> domain.ErrRemoteProtocol
//
// The client does not retry. Retrying is the sync loop's business.
package remote
