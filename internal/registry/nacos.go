package registry

import (
	"context"
	"fmt"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

// Nacos is the pluggable dynamic Resolver: instead of a static table it asks
// the nacos naming service for one healthy instance per call, using nacos'
// built-in load balancing. Services register themselves as ephemeral nodes
// so dead instances drop out when heartbeats stop.
type Nacos struct {
	namingClient naming_client.INamingClient
	groupName    string
}

func NewNacos(serverConfigs []constant.ServerConfig, clientConfig *constant.ClientConfig, groupName string) (*Nacos, error) {
	if groupName == "" {
		groupName = "DEFAULT_GROUP"
	}
	namingClient, err := clients.NewNamingClient(
		vo.NacosClientParam{
			ClientConfig:  clientConfig,
			ServerConfigs: serverConfigs,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos naming client: %w", err)
	}
	logger.Logger.Printf("Connected to Nacos. Namespace: '%s', Group: '%s'", clientConfig.NamespaceId, groupName)
	return &Nacos{namingClient: namingClient, groupName: groupName}, nil
}

func (n *Nacos) Resolve(_ context.Context, serviceName string) (string, error) {
	instance, err := n.namingClient.SelectOneHealthyInstance(vo.SelectOneHealthInstanceParam{
		ServiceName: serviceName,
		GroupName:   n.groupName,
	})
	if err != nil {
		return "", apperr.Unavailable(err, "no healthy instance for "+serviceName)
	}
	if instance == nil {
		return "", errUnknownService(serviceName)
	}
	return fmt.Sprintf("http://%s:%d", instance.Ip, instance.Port), nil
}

// Register announces a service instance as an ephemeral node.
func (n *Nacos) Register(serviceName, ip string, port int) error {
	success, err := n.namingClient.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		GroupName:   n.groupName,
	})
	if err != nil {
		return fmt.Errorf("failed to register service with nacos: %w", err)
	}
	if !success {
		return fmt.Errorf("nacos registration was not successful for service: %s", serviceName)
	}
	logger.Logger.Printf("Service '%s' registered to Nacos (%s:%d)", serviceName, ip, port)
	return nil
}

// Deregister removes the instance. Ephemeral nodes would expire anyway once
// heartbeats stop; this just makes shutdown immediate.
func (n *Nacos) Deregister(serviceName, ip string, port int) error {
	_, err := n.namingClient.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Ephemeral:   true,
		GroupName:   n.groupName,
	})
	if err != nil {
		return fmt.Errorf("failed to deregister service with nacos: %w", err)
	}
	logger.Logger.Printf("Service '%s' deregistered from Nacos (%s:%d)", serviceName, ip, port)
	return nil
}
