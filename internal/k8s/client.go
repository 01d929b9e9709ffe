package k8s

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client wraps the Kubernetes clientset used by the deploy controller, the
// build orchestrator and the status aggregator. It is constructed once at
// startup; operations that need the cluster fail fast when it is absent.
type Client struct {
	Clientset kubernetes.Interface
	config    *rest.Config
}

// NewClient builds a client from an explicit kubeconfig path or, when
// inCluster is set, from the pod's service account.
func NewClient(kubeconfig string, inCluster bool) (*Client, error) {
	var config *rest.Config
	var err error

	if inCluster {
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load in-cluster config: %w", err)
		}
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return &Client{
		Clientset: clientset,
		config:    config,
	}, nil
}

// Config returns the Kubernetes REST config for creating additional clients
func (c *Client) Config() *rest.Config {
	return c.config
}
