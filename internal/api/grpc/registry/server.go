package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/libpack/internal/domain/bundle"
)

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	Accept(ctx context.Context, upload *bundle.Upload) (*bundle.Receipt, error)
}

// Server implements the Registry gRPC API.
type Server struct {
	// service stores accepted bundles.
	service Service
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// Push stores one bundle and returns its receipt.
func (s *Server) Push(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	upload, err := toDomainUpload(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	receipt, err := s.service.Accept(ctx, upload)

	switch {
	case err == nil:
	case errors.Is(err, bundle.ErrInvalidUpload), errors.Is(err, bundle.ErrUploadChecksum):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, bundle.ErrBundleExists):
		return nil, status.Error(codes.AlreadyExists, err.Error())
	default:
		return nil, status.Error(codes.Internal, "unable to store bundle")
	}

	reply, err := toProtoReceipt(receipt)
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode receipt")
	}

	return reply, nil
}

// errMissingField is returned for requests without a required field.
var errMissingField = errors.New("required field is missing")

// toDomainUpload converts a Push request into an Upload.
func toDomainUpload(req *structpb.Struct) (*bundle.Upload, error) {
	fields := req.GetFields()

	upload := &bundle.Upload{
		Name:     fields[fieldName].GetStringValue(),
		Version:  fields[fieldVersion].GetStringValue(),
		Label:    fields[fieldLabel].GetStringValue(),
		Checksum: fields[fieldSHA256].GetStringValue(),
	}

	if upload.Name == "" {
		return nil, fmt.Errorf("%w: %s", errMissingField, fieldName)
	}

	if upload.Checksum == "" {
		return nil, fmt.Errorf("%w: %s", errMissingField, fieldSHA256)
	}

	content, err := base64.StdEncoding.DecodeString(fields[fieldContent].GetStringValue())
	if err != nil {
		return nil, err
	}

	upload.Content = content

	return upload, nil
}

// toProtoReceipt converts a receipt into a Push reply.
func toProtoReceipt(receipt *bundle.Receipt) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldID:               receipt.ID,
		fieldName:             receipt.Bundle,
		fieldLocation:         receipt.Location,
		fieldSHA256:           receipt.Checksum,
		fieldPublishedAt:      receipt.PublishedAt.UTC().Format(time.RFC3339Nano),
		fieldAlreadyPublished: receipt.AlreadyPublished,
	})
}

// toProtoUpload converts an upload into a Push request.
func toProtoUpload(upload *bundle.Upload) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldName:    upload.Name,
		fieldVersion: upload.Version,
		fieldLabel:   upload.Label,
		fieldSHA256:  upload.Checksum,
		fieldContent: base64.StdEncoding.EncodeToString(upload.Content),
	})
}

// toDomainReceipt converts a Push reply into a receipt.
func toDomainReceipt(reply *structpb.Struct) (*bundle.Receipt, error) {
	fields := reply.GetFields()

	receipt := &bundle.Receipt{
		ID:               fields[fieldID].GetStringValue(),
		Bundle:           fields[fieldName].GetStringValue(),
		Location:         fields[fieldLocation].GetStringValue(),
		Checksum:         fields[fieldSHA256].GetStringValue(),
		AlreadyPublished: fields[fieldAlreadyPublished].GetBoolValue(),
	}

	if raw := fields[fieldPublishedAt].GetStringValue(); raw != "" {
		publishedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, err
		}

		receipt.PublishedAt = publishedAt
	}

	return receipt, nil
}
