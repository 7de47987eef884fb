// Package engine applies a synthesized template against the provisioning
// service. The topology core treats this as a black box; it only ever hands
// over a finalized, validated template.
package engine

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/awserr"
	"github.com/aws/aws-sdk-go-v2/aws/external"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/cloudformationiface"
	"github.com/cenkalti/backoff"
	"github.com/fabrik/fabrik/template"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// CloudFormation provisions stacks through the AWS CloudFormation API.
type CloudFormation struct {
	// Logger logs stack operations. If nil, logs are discarded.
	Logger *zap.Logger

	// Region overrides the region resolved from the environment.
	Region string

	client cloudformationiface.ClientAPI
}

// service returns a CloudFormation API client. If a client was set, it is
// returned.
func (e *CloudFormation) service() (cloudformationiface.ClientAPI, error) {
	if e.client != nil {
		return e.client, nil
	}
	cfg, err := external.LoadDefaultAWSConfig()
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	if e.Region != "" {
		cfg.Region = e.Region
	}
	return cloudformation.New(cfg), nil
}

func (e *CloudFormation) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Apply creates the stack, or updates it if it already exists. An update
// that contains no changes is not an error.
func (e *CloudFormation) Apply(ctx context.Context, stackName string, tmpl *template.Template) error {
	svc, err := e.service()
	if err != nil {
		return err
	}

	body, err := tmpl.JSON()
	if err != nil {
		return errors.Wrap(err, "encode template")
	}

	logger := e.logger().With(zap.String("stack", stackName), zap.String("hash", template.Hash(tmpl)))

	op := func() error {
		logger.Info("creating stack")
		input := &cloudformation.CreateStackInput{
			StackName:    aws.String(stackName),
			TemplateBody: aws.String(string(body)),
			Capabilities: []cloudformation.Capability{cloudformation.CapabilityCapabilityIam},
		}
		if _, err := svc.CreateStackRequest(input).Send(ctx); err != nil {
			if aerr, ok := err.(awserr.Error); ok && aerr.Code() == cloudformation.ErrCodeAlreadyExistsException {
				return e.update(ctx, svc, stackName, body, logger)
			}
			return handlePutError(err)
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}

func (e *CloudFormation) update(ctx context.Context, svc cloudformationiface.ClientAPI, stackName string, body []byte, logger *zap.Logger) error {
	logger.Info("stack exists, updating")
	input := &cloudformation.UpdateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(string(body)),
		Capabilities: []cloudformation.Capability{cloudformation.CapabilityCapabilityIam},
	}
	if _, err := svc.UpdateStackRequest(input).Send(ctx); err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Message() == "No updates are to be performed." {
			logger.Info("no changes")
			return nil
		}
		return handlePutError(err)
	}
	return nil
}

// Destroy deletes the stack. Deleting a stack that does not exist is not an
// error.
func (e *CloudFormation) Destroy(ctx context.Context, stackName string) error {
	svc, err := e.service()
	if err != nil {
		return err
	}
	logger := e.logger().With(zap.String("stack", stackName))

	op := func() error {
		logger.Info("deleting stack")
		input := &cloudformation.DeleteStackInput{
			StackName: aws.String(stackName),
		}
		if _, err := svc.DeleteStackRequest(input).Send(ctx); err != nil {
			return handleDelError(err)
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}

func handlePutError(err error) error {
	if err == nil {
		return nil
	}
	if aerr, ok := err.(awserr.RequestFailure); ok {
		if aerr.StatusCode() == http.StatusTooManyRequests {
			return err
		}
		if aerr.StatusCode() >= 400 && aerr.StatusCode() < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	return err
}

func handleDelError(err error) error {
	if err == nil {
		return nil
	}
	if aerr, ok := err.(awserr.RequestFailure); ok {
		if aerr.StatusCode() == 404 {
			// Already deleted
			return nil
		}
		if aerr.StatusCode() == http.StatusTooManyRequests {
			return err
		}
		if aerr.StatusCode() >= 400 && aerr.StatusCode() < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	return err
}
