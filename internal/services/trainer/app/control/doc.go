// Package control is the operator gRPC API of the trainer: list live
// sessions, inspect a snapshot, stop a session and read its scored rounds.
//
// Messages are google.protobuf.Struct values so the service needs no
// generated code; ServiceDesc and the Client mirror what protoc-gen-go-grpc
// would emit.
package control
