// Package factory creates llm.Client values by provider name.
//
// Importing the package registers every bundled provider. Clients are
// created from an llm.ClientConfig, usually the one returned by
// llm.GetLLMFromEnv:
//
//	client, err := factory.New().CreateClient(llm.GetLLMFromEnv())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package factory
