package server

import (
	"context"
	"net"
	"slices"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	core "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	AnnotationBackend = "srcds-router.itzg.me/backend"
	// service ports with either name carry the game traffic
	servicePortName    = "srcds"
	servicePortNameAlt = "game"
)

// K8sWatcher reports Services annotated with srcds-router.itzg.me/backend as backends
type K8sWatcher struct {
	sync.Mutex
	// keyed by namespace/name of the Service
	services map[string][]string

	sources   *BackendSources
	namespace string
	clientset kubernetes.Interface
}

func NewK8sWatcherInCluster(sources *BackendSources) (*K8sWatcher, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		return nil, errors.Wrap(err, "Unable to load in-cluster config")
	}
	return newK8sWatcher(config, sources)
}

func NewK8sWatcherWithConfig(kubeConfigFile string, sources *BackendSources) (*K8sWatcher, error) {
	config, err := clientcmd.BuildConfigFromFlags("", kubeConfigFile)
	if err != nil {
		return nil, errors.Wrap(err, "Could not load kube config file")
	}
	return newK8sWatcher(config, sources)
}

func newK8sWatcher(config *rest.Config, sources *BackendSources) (*K8sWatcher, error) {
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, errors.Wrap(err, "Could not create kube clientset")
	}
	return &K8sWatcher{
		services:  make(map[string][]string),
		sources:   sources,
		clientset: clientset,
	}, nil
}

func (w *K8sWatcher) WithNamespace(namespace string) *K8sWatcher {
	w.namespace = namespace
	return w
}

func (w *K8sWatcher) String() string {
	return "kubernetes"
}

// Start runs the Service informer until ctx is done and waits for the
// initial listing, so backends are known before the pool is built
func (w *K8sWatcher) Start(ctx context.Context) error {
	namespace := w.namespace
	if namespace == "" {
		namespace = core.NamespaceAll
	}

	_, serviceController := cache.NewInformer(
		cache.NewListWatchFromClient(
			w.clientset.CoreV1().RESTClient(),
			string(core.ResourceServices),
			namespace,
			fields.Everything(),
		),
		&core.Service{},
		0,
		cache.ResourceEventHandlerFuncs{
			AddFunc:    w.handleAdd,
			DeleteFunc: w.handleDelete,
			UpdateFunc: w.handleUpdate,
		},
	)
	go serviceController.Run(ctx.Done())

	if !cache.WaitForCacheSync(ctx.Done(), serviceController.HasSynced) {
		return errors.New("Kubernetes service informer did not sync")
	}

	logrus.WithField("namespace", w.namespace).Info("Monitoring Kubernetes for game server services")
	return nil
}

// obj is expected to be a *v1.Service
func (w *K8sWatcher) handleAdd(obj interface{}) {
	service, ok := obj.(*core.Service)
	if !ok {
		return
	}
	backends := extractServiceBackends(service)
	if len(backends) == 0 {
		return
	}
	logrus.WithField("service", serviceKey(service)).WithField("backends", backends).Debug("ADD")

	w.Lock()
	defer w.Unlock()
	w.services[serviceKey(service)] = backends
	w.publishLocked()
}

// oldObj and newObj are expected to be *v1.Service
func (w *K8sWatcher) handleUpdate(oldObj interface{}, newObj interface{}) {
	oldService, ok := oldObj.(*core.Service)
	if !ok {
		return
	}
	newService, ok := newObj.(*core.Service)
	if !ok {
		return
	}
	backends := extractServiceBackends(newService)
	logrus.WithField("service", serviceKey(newService)).WithField("backends", backends).Debug("UPDATE")

	w.Lock()
	defer w.Unlock()
	delete(w.services, serviceKey(oldService))
	if len(backends) > 0 {
		w.services[serviceKey(newService)] = backends
	}
	w.publishLocked()
}

// obj is expected to be a *v1.Service, or a tombstone carrying one
func (w *K8sWatcher) handleDelete(obj interface{}) {
	if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
		obj = tombstone.Obj
	}
	service, ok := obj.(*core.Service)
	if !ok {
		return
	}
	logrus.WithField("service", serviceKey(service)).Debug("DELETE")

	w.Lock()
	defer w.Unlock()
	if _, known := w.services[serviceKey(service)]; known {
		delete(w.services, serviceKey(service))
		w.publishLocked()
	}
}

func (w *K8sWatcher) Backends() []string {
	w.Lock()
	defer w.Unlock()
	return w.backendsLocked()
}

func (w *K8sWatcher) backendsLocked() []string {
	var result []string
	for _, backends := range w.services {
		result = append(result, backends...)
	}
	slices.Sort(result)
	return slices.Compact(result)
}

func (w *K8sWatcher) publishLocked() {
	if w.sources == nil {
		return
	}
	if err := w.sources.Set(SourceKubernetes, w.backendsLocked()); err != nil {
		logrus.WithError(err).Warn("Could not apply Kubernetes backends")
	}
}

func serviceKey(service *core.Service) string {
	return service.Namespace + "/" + service.Name
}

func extractServiceBackends(service *core.Service) []string {
	if _, exists := service.Annotations[AnnotationBackend]; !exists {
		return nil
	}

	host := service.Spec.ClusterIP
	if service.Spec.Type == core.ServiceTypeExternalName {
		host = service.Spec.ExternalName
	}
	if host == "" || host == core.ClusterIPNone {
		logrus.WithField("service", serviceKey(service)).Warn("ignoring service without a cluster IP")
		return nil
	}

	port := strconv.Itoa(DefaultPort)
	for i, p := range service.Spec.Ports {
		if p.Name == servicePortName || p.Name == servicePortNameAlt {
			port = strconv.Itoa(int(p.Port))
			break
		}
		if i == 0 && p.Protocol == core.ProtocolUDP {
			port = strconv.Itoa(int(p.Port))
		}
	}
	return []string{net.JoinHostPort(host, port)}
}
