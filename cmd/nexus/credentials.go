package main

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// staticCredentials wraps an explicit access key pair named in a
// backend's config params, for the case where a Bedrock-backed
// backend runs under a different AWS account than the process's
// ambient credentials (instance role, shared config file, env vars).
// Most deployments never set these params and fall through to
// awsconfig.LoadDefaultConfig's own chain instead.
func staticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
}
