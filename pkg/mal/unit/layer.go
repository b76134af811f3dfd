package unit

import "sort"

// Layer identifies the technology layer a derived metric belongs to. The
// set is closed; names outside it are rejected while compiling.
type Layer int

const (
	LayerUndefined Layer = iota
	LayerMesh
	LayerGeneral
	LayerOSLinux
	LayerK8s
	LayerFaas
	LayerMeshCP
	LayerMeshDP
	LayerDatabase
	LayerCache
	LayerBrowser
	LayerSO11YOAP
	LayerSO11YSatellite
	LayerMQ
	LayerVirtualDatabase
	LayerMySQL
	LayerPostgreSQL
	LayerVirtualMQ
	LayerApisix
	LayerAWSEKS
	LayerOSWindows
	LayerAWSS3
	LayerAWSDynamoDB
	LayerAWSGateway
	LayerRedis
	LayerElasticsearch
	LayerRabbitMQ
	LayerMongoDB
	LayerKafka
	LayerPulsar
	LayerNginx
	LayerK8sService
	LayerClickHouse
	LayerActiveMQ
	LayerRocketMQ
	LayerBookKeeper
)

var layerNames = map[Layer]string{
	LayerUndefined:       "UNDEFINED",
	LayerMesh:            "MESH",
	LayerGeneral:         "GENERAL",
	LayerOSLinux:         "OS_LINUX",
	LayerK8s:             "K8S",
	LayerFaas:            "FAAS",
	LayerMeshCP:          "MESH_CP",
	LayerMeshDP:          "MESH_DP",
	LayerDatabase:        "DATABASE",
	LayerCache:           "CACHE",
	LayerBrowser:         "BROWSER",
	LayerSO11YOAP:        "SO11Y_OAP",
	LayerSO11YSatellite:  "SO11Y_SATELLITE",
	LayerMQ:              "MQ",
	LayerVirtualDatabase: "VIRTUAL_DATABASE",
	LayerMySQL:           "MYSQL",
	LayerPostgreSQL:      "POSTGRESQL",
	LayerVirtualMQ:       "VIRTUAL_MQ",
	LayerApisix:          "APISIX",
	LayerAWSEKS:          "AWS_EKS",
	LayerOSWindows:       "OS_WINDOWS",
	LayerAWSS3:           "AWS_S3",
	LayerAWSDynamoDB:     "AWS_DYNAMODB",
	LayerAWSGateway:      "AWS_GATEWAY",
	LayerRedis:           "REDIS",
	LayerElasticsearch:   "ELASTICSEARCH",
	LayerRabbitMQ:        "RABBITMQ",
	LayerMongoDB:         "MONGODB",
	LayerKafka:           "KAFKA",
	LayerPulsar:          "PULSAR",
	LayerNginx:           "NGINX",
	LayerK8sService:      "K8S_SERVICE",
	LayerClickHouse:      "CLICKHOUSE",
	LayerActiveMQ:        "ACTIVEMQ",
	LayerRocketMQ:        "ROCKETMQ",
	LayerBookKeeper:      "BOOKKEEPER",
}

var layersByName = func() map[string]Layer {
	m := make(map[string]Layer, len(layerNames))
	for l, name := range layerNames {
		m[name] = l
	}
	return m
}()

func (l Layer) String() string {
	if name, ok := layerNames[l]; ok {
		return name
	}
	return "UNDEFINED"
}

// LookupLayer finds a layer by its registered name, e.g. "OS_LINUX".
func LookupLayer(name string) (Layer, bool) {
	l, ok := layersByName[name]
	return l, ok
}

// LayerNames returns every registered layer name, sorted.
func LayerNames() []string {
	names := make([]string, 0, len(layersByName))
	for name := range layersByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
