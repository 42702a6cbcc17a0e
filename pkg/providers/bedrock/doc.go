// Package bedrock provides AWS Bedrock integration for the toolloop agent.
//
// This package implements the llm.Client interface on top of the Bedrock
// Converse API, which gives Claude, Nova, Llama and the other hosted model
// families one message format, including tool use and tool results.
//
// Usage:
//
//	client, err := bedrock.NewClient(llm.ClientConfig{
//	    Provider: "bedrock",
//	    Model:    "anthropic.claude-3-haiku-20240307-v1:0",
//	    Extra: map[string]string{
//	        "region": "us-east-1",
//	    },
//	})
//
// The client uses the AWS SDK's default credential chain for authentication,
// supporting environment variables, IAM roles, profiles, and other standard
// AWS authentication methods.
package bedrock
